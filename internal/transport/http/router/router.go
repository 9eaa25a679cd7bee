package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/courierhq/courier/internal/config"
	"github.com/courierhq/courier/internal/metrics"
	"github.com/courierhq/courier/internal/transport/http/handlers"
	authmw "github.com/courierhq/courier/internal/transport/http/middleware"
)

func New(
	msgs *handlers.MessagesHandler,
	tokens *handlers.TokensHandler,
	health *handlers.HealthHandler,
	auth *authmw.AuthMiddleware,
	cfg *config.Config,
) http.Handler {
	r := chi.NewRouter()

	r.Use(authmw.RequestID)
	r.Use(authmw.SecurityHeaders)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(authmw.AccessLog)

	if cfg.RLEnabled {
		r.Use(httprate.LimitByIP(cfg.RLLimit, cfg.RLWindow))
	}

	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.Require)

			r.Post("/messages", msgs.Send)
			r.Post("/messages/batch", msgs.SendBatch)
			r.Get("/messages", msgs.List)
			r.Get("/messages/{message_id}", msgs.Get)
			r.Get("/messages/{message_id}/attempts", msgs.Attempts)
			r.Post("/messages/{message_id}/retry", msgs.Retry)
			r.Post("/messages/{message_id}/destinations/{destination_id}/retry", msgs.RetryDestination)

			r.Put("/tokens", tokens.Register)
			r.Get("/tokens", tokens.List)
		})
	})

	return r
}
