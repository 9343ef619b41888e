package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pawpal/conversation-service/internal/apperr"
	"github.com/pawpal/conversation-service/internal/middleware"
	"github.com/pawpal/conversation-service/internal/model"
	"github.com/pawpal/conversation-service/internal/service"
	"github.com/pawpal/conversation-service/internal/subscription"
	"github.com/pawpal/conversation-service/pkg/logger"
	"github.com/pawpal/conversation-service/pkg/metrics"
)

// StreamHandler serves pull-channel subscriptions as server-sent events.
type StreamHandler struct {
	broker    *subscription.Broker
	heartbeat time.Duration
	logger    *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(broker *subscription.Broker, heartbeat time.Duration, log *logger.Logger) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &StreamHandler{
		broker:    broker,
		heartbeat: heartbeat,
		logger:    log,
	}
}

// ConnectedEvent is the first event of every subscription.
type ConnectedEvent struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId,omitempty"`
}

// Messages handles GET /api/v1/subscriptions/messages
// Streams every new message addressed to the caller.
func (h *StreamHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	h.serve(w, r, subscription.ForReceiver(userID), &ConnectedEvent{UserID: userID})
}

// Conversation handles GET /api/v1/subscriptions/conversations/{conversationId}
// Streams every new message of one conversation the caller takes part in.
func (h *StreamHandler) Conversation(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	conversationID := chi.URLParam(r, "conversationId")

	if err := service.AuthorizeConversation(conversationID, userID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.serve(w, r, subscription.ForConversation(conversationID), &ConnectedEvent{
		UserID:         userID,
		ConversationID: conversationID,
	})
}

func (h *StreamHandler) serve(w http.ResponseWriter, r *http.Request, filter subscription.Filter, connected *ConnectedEvent) {
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, h.logger, apperr.Internal("streaming not supported", nil))
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Streams outlive the server write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	// Subscribe before "connected" so nothing published after it is missed
	sub, cancel := h.broker.Subscribe(filter)
	defer cancel()

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	log := h.logger.With(
		zap.String("user_id", connected.UserID),
		zap.String("conversation_id", connected.ConversationID),
	)

	if err := sendSSEEvent(w, flusher, "connected", connected); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("SSE client disconnected")
			return

		case msg := <-sub.Events():
			if err := sendSSEEvent(w, flusher, "message", msg); err != nil {
				log.Debug("SSE write failed", zap.Error(err))
				return
			}

		case <-sub.Dropped():
			sendSSEEvent(w, flusher, "error", &model.ErrorEvent{Message: "subscription lagged behind, resubscribe"})
			return

		case <-heartbeat.C:
			if err := sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{Timestamp: time.Now().UTC()}); err != nil {
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
