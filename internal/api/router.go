package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/clive/apps/remote/internal/broker"
	"github.com/iammorganparry/clive/apps/remote/internal/store"
)

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(
	db *store.DB,
	b *broker.Broker,
	events *store.EventStore,
	apiKey string,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (runs on ALL routes including /health)
	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	// Handlers
	healthH := NewHealthHandler(db, b)
	commandH := NewCommandHandler(b)
	streamH := NewStreamHandler(b, logger)
	historyH := NewHistoryHandler(events)

	// Unauthenticated routes
	r.Get("/health", healthH.Health)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(apiKey))

		r.Route("/state", func(r chi.Router) {
			r.Get("/", commandH.State)
			r.Get("/stream", streamH.Stream)
		})
		r.Post("/connect", commandH.Connect)
		r.Post("/disconnect", commandH.Disconnect)
		r.Post("/pin", commandH.CreatePin)
		r.Get("/history", historyH.List)
	})

	return r
}
