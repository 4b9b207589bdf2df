// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/localcity-market/messaging/internal/middleware"
	"github.com/localcity-market/messaging/internal/model"
	"github.com/localcity-market/messaging/internal/service"
	"github.com/localcity-market/messaging/pkg/logger"
)

// response is the JSON envelope of every API response.
type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`

	// Conversation is set on conflicts to the existing conversation.
	Conversation *model.Conversation `json:"conversation,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, response{Success: true, Data: data})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, response{Success: false, Message: message})
}

// writeServiceError maps a service failure to its HTTP status. Internal
// failures are logged and hidden from the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	var se *service.Error
	if !errors.As(err, &se) {
		se = &service.Error{Kind: service.KindInternal, Message: "internal server error", Err: err}
	}

	switch se.Kind {
	case service.KindValidation:
		writeError(w, http.StatusBadRequest, se.Message)
	case service.KindForbidden:
		writeError(w, http.StatusForbidden, se.Message)
	case service.KindNotFound:
		writeError(w, http.StatusNotFound, se.Message)
	case service.KindConflict:
		writeJSON(w, http.StatusConflict, response{
			Success:      false,
			Message:      se.Message,
			Conversation: se.Existing,
		})
	default:
		log.WithRequest(logger.RequestFields{
			CorrelationID: middleware.GetCorrelationID(r.Context()),
			UserID:        middleware.GetUserID(r.Context()),
			Role:          middleware.GetRole(r.Context()),
		}).Error("request failed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

// pageParams reads page and limit query parameters. Missing or malformed
// values are left at zero for the service to default.
func pageParams(r *http.Request) (page, limit int) {
	q := r.URL.Query()
	if p, err := strconv.Atoi(q.Get("page")); err == nil {
		page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil {
		limit = l
	}
	return page, limit
}
