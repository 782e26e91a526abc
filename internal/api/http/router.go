package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/authgate/internal/api/http/handlers"
	"github.com/spec-kit/authgate/internal/auth"
	"github.com/spec-kit/authgate/internal/ratelimit"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Me             *handlers.MeHandler
	Gatherer       prometheus.Gatherer
	AuthMiddleware *auth.AuthMiddleware
	RateClasses    *ratelimit.Classes
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := app.Group("/v1", cfg.AuthMiddleware.Handle, auth.RequireAuthenticated(), auth.RequireActive())
	v1.Get("/me", cfg.RateClasses.Require("default"), cfg.Me.Get)
	v1.Get("/ai/quota", cfg.RateClasses.Require("default", "ai"), cfg.Me.AIQuota)
}
