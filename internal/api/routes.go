package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)
	r.Use(CORSMiddleware(h.cfg.CORSOrigin))
	r.Use(ClientIDMiddleware)

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			if h.cfg.APIKey != "" {
				r.Use(AuthMiddleware(h.cfg.APIKey))
			}

			r.Get("/song", h.GetSong)
			r.Patch("/song", h.PatchSong)
			r.Post("/restart_transport", h.RestartTransport)
			r.Get("/updates", h.Updates)

			r.Get("/synths", h.ListSynths)
			r.Post("/synths", h.CreateSynth)
			r.Patch("/synths", h.PatchSynths)

			r.Route("/synths/{synthID}", func(r chi.Router) {
				r.Get("/", h.GetSynth)
				r.Patch("/", h.PatchSynth)
				r.Get("/chains", h.ListChains)
				r.Post("/chains", h.CreateChain)
				r.Patch("/chains", h.PatchChains)

				r.Route("/chains/{chainID}", func(r chi.Router) {
					r.Get("/", h.GetChain)
					r.Patch("/", h.PatchChain)
					r.Get("/takes", h.ListTakes)
					r.Post("/takes", h.CreateTake)
					r.Patch("/takes", h.PatchTakes)

					r.Get("/takes/{takeID}", h.GetTake)
					r.Patch("/takes/{takeID}", h.PatchTake)
					r.Post("/takes/{takeID}/finish_recording", h.FinishRecording)
				})
			})
		})
	})

	return r
}
