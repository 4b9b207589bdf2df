package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/localcity-market/messaging/internal/middleware"
	"github.com/localcity-market/messaging/pkg/logger"
)

const maxBodyBytes = 1 << 20

// RouterConfig holds the HTTP-layer settings of the router.
type RouterConfig struct {
	JWTSecret          string
	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
}

// Handlers groups the endpoint handlers mounted by NewRouter.
type Handlers struct {
	Health        *HealthHandler
	Conversations *ConversationHandler
	Messages      *MessageHandler
	Stream        *StreamHandler
	WS            *WSHandler
}

// NewRouter builds the API router.
func NewRouter(cfg RouterConfig, h Handlers, log *logger.Logger) chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", h.Health.Health)
	r.Get("/ready", h.Health.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// WebSocket clients authenticate with the join event.
	r.With(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow)).Get("/ws", h.WS.Handle)

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Use(middleware.MaxBodySize(maxBodyBytes))

		r.Get("/events", h.Stream.Events)

		r.Post("/message", h.Messages.Send)
		r.Route("/message/{id}", func(r chi.Router) {
			r.Patch("/", h.Messages.Update)
			r.Delete("/", h.Messages.Delete)
		})
		r.Get("/messages/unread-count", h.Messages.UnreadCount)
		r.Get("/messages/search", h.Messages.Search)

		r.Get("/conversations", h.Conversations.List)
		r.Post("/conversation", h.Conversations.Create)
		r.Route("/conversation/{id}", func(r chi.Router) {
			r.Get("/", h.Conversations.Get)
			r.Delete("/", h.Conversations.Deactivate)
			r.Get("/messages", h.Conversations.Messages)
			r.Patch("/mark-read", h.Conversations.MarkRead)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})

	return r
}
