// Package logger wraps zap with the encoders and request fields the service
// logs with.
package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects how a Logger encodes and filters entries.
type Options struct {
	// Level is a zap level name; unknown names mean info.
	Level string
	// Development switches to the coloured console encoder.
	Development bool
	// Service, when set, is attached to every entry.
	Service string
}

// Logger is a wrapper around zap.Logger.
type Logger struct {
	*zap.Logger
}

// New builds a JSON logger on stdout, or a console logger in development.
func New(opts Options) (*Logger, error) {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Sampling = nil
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(opts.Level))

	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if opts.Service != "" {
		z = z.With(zap.String("service", opts.Service))
	}
	return Wrap(z), nil
}

// Wrap adopts an existing zap logger.
func Wrap(z *zap.Logger) *Logger {
	return &Logger{Logger: z}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return Wrap(zap.NewNop())
}

// With creates a child logger with additional fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return Wrap(l.Logger.With(fields...))
}

// Named creates a child logger for a component.
func (l *Logger) Named(name string) *Logger {
	return Wrap(l.Logger.Named(name))
}

// RequestFields identifies the request an entry belongs to.
type RequestFields struct {
	CorrelationID string
	UserID        string
	Role          string
}

// WithRequest creates a child logger carrying the non-empty request fields.
func (l *Logger) WithRequest(f RequestFields) *Logger {
	fields := make([]zap.Field, 0, 3)
	if f.CorrelationID != "" {
		fields = append(fields, zap.String("correlation_id", f.CorrelationID))
	}
	if f.UserID != "" {
		fields = append(fields, zap.String("user_id", f.UserID))
	}
	if f.Role != "" {
		fields = append(fields, zap.String("role", f.Role))
	}
	return l.With(fields...)
}

// ParseLevel maps a level name to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	if strings.EqualFold(level, "warning") {
		return zapcore.WarnLevel
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
