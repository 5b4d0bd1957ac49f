package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router. A nil
// submit middleware leaves submissions unthrottled.
func MountRoutes(r chi.Router, h *Handlers, submitMW func(http.Handler) http.Handler) {
	r.Get("/health", h.Health)

	if h.LiveView != nil {
		r.Get("/ws", h.LiveView.HandleWS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
		})

		r.Get("/patterns", h.ListPatterns)
		r.Route("/patterns/{pattern}", func(r chi.Router) {
			if submitMW != nil {
				r.With(submitMW).Post("/submit", h.Submit)
			} else {
				r.Post("/submit", h.Submit)
			}
			r.Post("/abort", h.Abort)
			r.Get("/session", h.GetSession)
			r.Get("/results", h.GetResults)
		})
	})
}
