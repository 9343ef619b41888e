package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pawpal/conversation-service/internal/auth"
	"github.com/pawpal/conversation-service/internal/middleware"
	"github.com/pawpal/conversation-service/pkg/logger"
)

// RouterConfig holds everything the HTTP surface is assembled from.
type RouterConfig struct {
	Logger            *logger.Logger
	Verifier          auth.Verifier
	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration

	Health        *HealthHandler
	Conversations *ConversationHandler
	Messages      *MessageHandler
	Streams       *StreamHandler
	WebSocket     http.HandlerFunc
}

// NewRouter wires the push endpoint, the pull API and the operational
// endpoints onto one chi router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Push channel, authenticated during the handshake
	r.Get("/ws", cfg.WebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		// Subscriptions may carry the credential as a query parameter
		r.Group(func(r chi.Router) {
			r.Use(middleware.StreamAuth(cfg.Verifier))
			r.Get("/subscriptions/messages", cfg.Streams.Messages)
			r.Get("/subscriptions/conversations/{conversationId}", cfg.Streams.Conversation)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.Verifier))
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

			r.Get("/conversations", cfg.Conversations.List)
			r.Post("/conversations/{conversationId}/read", cfg.Messages.MarkRead)

			r.Get("/users/{userId}/messages", cfg.Messages.List)

			r.Post("/messages", cfg.Messages.Send)
			r.Get("/messages/unread-count", cfg.Messages.UnreadCount)
		})
	})

	return r
}
