package routes

import (
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/payperplane/payperplane/internal/chain"
	"github.com/payperplane/payperplane/internal/config"
	"github.com/payperplane/payperplane/internal/funding"
	"github.com/payperplane/payperplane/internal/middleware"
)

// Deps aggregates shared dependencies required to wire routes. DB, Cache,
// Chain, Poller and Gatherer are optional.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Chain    chain.Reader
	Poller   *chain.Poller
	Funding  *funding.Service
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Funding == nil {
		return fmt.Errorf("funding service is required")
	}
	if d.Logger == nil {
		return fmt.Errorf("logger is required")
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-API-Key,Idempotency-Key,X-Request-ID",
	}))

	RegisterHealthRoutes(app, d)
	if d.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api/v1", middleware.APIKey(d.Cfg.APIKey))
	api.Get("/health", apiHealth)

	var idempotency, simulateLimit fiber.Handler
	if d.Cache != nil {
		idempotency = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
		simulateLimit = middleware.SimulateRateLimit(d.Cache, d.Cfg.SimulateRateLimit)
	}
	RegisterFundingRoutes(api, funding.NewHandler(d.Funding), idempotency, simulateLimit)

	return nil
}
