package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"finsync/internal/shared/config"
	"finsync/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Telemetry(cfg.Telemetry.ServiceName))
	r.Use(middleware.Tracing)
	r.Use(middleware.Logging)

	if cfg.TLS.Enabled {
		r.Use(middleware.HSTS)
		log.Println("TLS security middleware enabled (HSTS)")
	}

	r.Get("/health", deps.HealthHandler.HandleHealth)
	deps.ConnectionHandler.Routes(r)

	return r
}
