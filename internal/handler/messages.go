package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pawpal/conversation-service/internal/middleware"
	"github.com/pawpal/conversation-service/internal/model"
	"github.com/pawpal/conversation-service/internal/service"
	"github.com/pawpal/conversation-service/pkg/logger"
	"github.com/pawpal/conversation-service/pkg/metrics"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	messageService *service.MessageService
	logger         *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(svc *service.MessageService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: svc,
		logger:         log,
	}
}

// List handles GET /api/v1/users/{userId}/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	counterpartID := strings.TrimSpace(chi.URLParam(r, "userId"))
	if err := middleware.ValidateUserID(counterpartID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	limit, offset, err := middleware.ParsePagination(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp, err := h.messageService.List(r.Context(), middleware.GetUserID(r.Context()), counterpartID, limit, offset)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Send handles POST /api/v1/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req model.SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	msg, err := h.messageService.Send(r.Context(), middleware.GetUserID(r.Context()), &req, metrics.ChannelPull)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// UnreadCount handles GET /api/v1/messages/unread-count
func (h *MessageHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.messageService.UnreadCount(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, &model.UnreadCountResponse{Count: count})
}

// MarkRead handles POST /api/v1/conversations/{conversationId}/read
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationId")

	resp, err := h.messageService.MarkRead(r.Context(), middleware.GetUserID(r.Context()), conversationID, metrics.ChannelPull)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
