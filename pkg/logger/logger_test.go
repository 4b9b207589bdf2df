package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"loud", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestWithRequestSkipsEmptyFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := Wrap(zap.New(core))

	log.WithRequest(RequestFields{CorrelationID: "corr-1", UserID: "alice"}).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["correlation_id"] != "corr-1" || ctx["user_id"] != "alice" {
		t.Fatalf("fields = %v", ctx)
	}
	if _, ok := ctx["role"]; ok {
		t.Fatalf("empty role was logged: %v", ctx)
	}
}

func TestNewHonoursLevel(t *testing.T) {
	log, err := New(Options{Level: "error", Service: "messaging"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if log.Core().Enabled(zapcore.WarnLevel) {
		t.Fatal("warn enabled at error level")
	}
	if !log.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatal("error disabled at error level")
	}
}
