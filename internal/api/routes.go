package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aivmlib-go/aivmlib/internal/config"
	"github.com/aivmlib-go/aivmlib/internal/limiter"
)

// NewRouter constructs the HTTP router with middleware and routes.
func NewRouter(cfg *config.Config, deps Deps, logger zerolog.Logger) chi.Router {
	if deps.Metrics == nil {
		deps.Metrics = limiter.NewMetrics()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(CORSMiddleware)

	r.Handle("/metrics", limiter.MetricsHandler(deps.Metrics))

	h := NewHandler(cfg, deps, logger)

	r.Group(func(r chi.Router) {
		if cfg.Auth.APIKey != "" {
			r.Use(AuthMiddleware(cfg.Auth.APIKey))
		}

		r.Get("/v1/health", h.HandleHealth)
		r.Post("/v1/health", h.HandleHealth)

		r.Get("/v1/schema/manifest", h.HandleManifestSchema)

		r.Post("/v1/metadata/decode", h.HandleDecode)
		r.Post("/v1/metadata/inspect", h.HandleInspect)
		r.Post("/v1/metadata/synthesize", h.HandleSynthesize)

		r.Post("/v1/aivm", h.HandleEncode)

		r.Get("/v1/models", h.HandleListModels)
		r.Post("/v1/models", h.HandleAddModel)
		r.Post("/v1/models/scan", h.HandleScan)
		r.Get("/v1/models/{uuid}", h.HandleGetModel)
		r.Delete("/v1/models/{uuid}", h.HandleDeleteModel)
		r.Get("/v1/models/{uuid}/file", h.HandleModelFile)
	})

	return r
}
