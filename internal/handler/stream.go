package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/localcity-market/messaging/internal/middleware"
	"github.com/localcity-market/messaging/internal/realtime"
	"github.com/localcity-market/messaging/pkg/logger"
)

// StreamHandler serves a user's room as Server-Sent Events.
type StreamHandler struct {
	hub       *realtime.Hub
	heartbeat time.Duration
	logger    *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(hub *realtime.Hub, heartbeat time.Duration, log *logger.Logger) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &StreamHandler{
		hub:       hub,
		heartbeat: heartbeat,
		logger:    log,
	}
}

// Events handles GET /api/v1/events
func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// The stream outlives the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	client := h.hub.Connect(realtime.TransportSSE)
	defer h.hub.Disconnect(client)
	h.hub.Join(client, userID)

	if err := sendSSEEvent(w, flusher, realtime.EventJoined, map[string]string{"user_id": userID}); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("user_id", userID))
			return

		case ev, ok := <-client.Events():
			if !ok {
				return
			}
			if err := sendSSEEvent(w, flusher, ev.Event, ev.Data); err != nil {
				h.logger.Debug("SSE write failed", zap.String("user_id", userID), zap.Error(err))
				return
			}

		case <-heartbeat.C:
			if err := sendSSEEvent(w, flusher, realtime.EventHeartbeat, map[string]time.Time{
				"timestamp": time.Now().UTC(),
			}); err != nil {
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
