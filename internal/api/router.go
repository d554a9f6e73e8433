package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter assembles the route tree and middleware chain.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)

		// WebSocket auth is handled at upgrade time; the token arrives as a
		// query parameter because browsers cannot set headers on upgrades.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/devices/{id}/latest", s.handleDeviceLatest)
			r.Post("/devices/test-connection", s.handleTestConnection)

			r.Get("/readings/{id}", s.handleReadings)

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", s.handleListNotifications)
				r.Get("/unread-count", s.handleUnreadCount)
				r.Post("/read-all", s.handleMarkAllRead)
				r.Post("/{id}/read", s.handleMarkRead)
				r.Delete("/{id}", s.handleDismiss)
			})
		})
	})

	return r
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}
