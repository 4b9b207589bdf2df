package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/localcity-market/messaging/internal/middleware"
	"github.com/localcity-market/messaging/internal/model"
	"github.com/localcity-market/messaging/internal/service"
	"github.com/localcity-market/messaging/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service *service.MessagingService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.MessagingService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  log,
	}
}

// Create handles POST /api/v1/conversation
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.CreateConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateText("name", req.Name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.service.CreateConversation(ctx, middleware.GetUserID(ctx), &req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeData(w, http.StatusCreated, conv)
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page, limit := pageParams(r)

	resp, err := h.service.ListConversations(ctx, middleware.GetUserID(ctx), page, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeData(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/conversation/:id
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return
	}

	conv, err := h.service.GetConversation(ctx, middleware.GetUserID(ctx), conversationID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeData(w, http.StatusOK, conv)
}

// Deactivate handles DELETE /api/v1/conversation/:id
func (h *ConversationHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return
	}

	if err := h.service.DeactivateConversation(ctx, middleware.GetUserID(ctx), conversationID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Success: true, Message: "conversation deactivated"})
}

// Messages handles GET /api/v1/conversation/:id/messages
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return
	}
	page, limit := pageParams(r)

	resp, err := h.service.ListMessages(ctx, middleware.GetUserID(ctx), conversationID, page, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeData(w, http.StatusOK, resp)
}

// MarkRead handles PATCH /api/v1/conversation/:id/mark-read
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return
	}

	resp, err := h.service.MarkRead(ctx, middleware.GetUserID(ctx), conversationID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeData(w, http.StatusOK, resp)
}

func conversationParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}
