package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the router: middleware, the open health check,
// and the /api group.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://maxretain.com", "http://localhost:5173", "http://localhost:8080"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Link"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Get("/schedule/check", h.CheckSchedule)

		r.Route("/batches", func(r chi.Router) {
			r.Get("/", h.ListBatches)
			r.Post("/", h.CreateBatch)
			r.Post("/single", h.CreateSingleBatch)

			r.Route("/{batchID}", func(r chi.Router) {
				r.Get("/", h.GetBatch)
				r.Post("/process", h.ProcessBatch)
				r.Post("/retry", h.RetryBatch)
				r.Post("/check-status", h.CheckBatchStatus)
			})
		})

		r.Get("/email-status/message/{messageID}", h.GetMessageStatus)

		// SendGrid posts event batches here.
		r.Post("/webhooks/sendgrid", h.SendGridWebhook)
	})

	return r
}
