package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(RequestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	// Public
	r.Get("/health", h.Health)

	r.Route("/sync", func(r chi.Router) {
		r.Use(LimitBody(MaxRequestBytes))

		// getDecks reports bad credentials in its body, not as a 401.
		r.Post("/getDecks", h.GetDecks)

		r.Group(func(r chi.Router) {
			r.Use(CredentialsMiddleware(h.users))
			r.Post("/createDeck", h.CreateDeck)

			r.Group(func(r chi.Router) {
				r.Use(DeckMiddleware(h.decks))
				r.Post("/summary", h.Summary)
				r.Post("/applyPayload", h.ApplyPayload)
				r.Post("/backupURL", h.BackupURL)
			})
		})
	})

	return r
}
