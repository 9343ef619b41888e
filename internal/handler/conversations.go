package handler

import (
	"net/http"

	"github.com/pawpal/conversation-service/internal/middleware"
	"github.com/pawpal/conversation-service/internal/service"
	"github.com/pawpal/conversation-service/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	conversationService *service.ConversationService
	logger              *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		conversationService: svc,
		logger:              log,
	}
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	resp, err := h.conversationService.List(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
