package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/taskbell/internal/metrics"
	"github.com/lalithlochan/taskbell/internal/redis"
)

// NewRouter wires every route. limiter may be nil.
func NewRouter(h *Handler, limiter *redis.RateLimiter, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(RequestLogger(logger))

	r.Route("/v1", func(r chi.Router) {
		r.Use(h.deps.Auth.Middleware)
		r.Use(RateLimitMiddleware(limiter, logger, PrincipalKeyFunc))

		// Long-lived streams must not be cut by the request timeout.
		if h.deps.Realtime != nil {
			r.Get("/stream", h.Stream)
			r.Get("/ws", h.WebSocket)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Post("/notifications", h.CreateNotification)
			r.Get("/notifications", h.ListNotifications)
			r.Get("/notifications/{id}", h.GetNotification)
			r.Patch("/notifications/{id}/read", h.MarkRead)
			r.Patch("/notifications/{id}/archive", h.Archive)

			r.Patch("/recipients/{recipientType}/{recipientID}/read-all", h.MarkAllRead)
			r.Get("/recipients/{recipientType}/{recipientID}/unread-count", h.UnreadCount)

			r.Post("/mentions", h.CreateMentions)

			if h.deps.Subscriptions != nil {
				r.Post("/push-subscriptions", h.Subscribe)
				r.Delete("/push-subscriptions", h.Unsubscribe)
			}

			r.Route("/admin", func(r chi.Router) {
				r.Use(h.requirePrivileged)
				r.Post("/scans", h.TriggerScan)
				r.Get("/breakers", h.ListBreakers)
				r.Post("/breakers/{name}/reset", h.ResetBreaker)
			})
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Get("/ready", h.Ready)

	r.Handle("/metrics", metrics.Handler())

	return r
}
