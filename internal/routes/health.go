package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

const healthCheckTimeout = 2 * time.Second

// RegisterHealthRoutes adds the public readiness probe. Each configured
// dependency is checked; the chain provider is informational only because the
// poller already retries on its own.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), healthCheckTimeout)
		defer cancel()

		components := fiber.Map{}
		healthy := true

		if d.DB != nil {
			components["postgres"] = "ok"
			if err := d.DB.Ping(ctx); err != nil {
				components["postgres"] = err.Error()
				healthy = false
			}
		}
		if d.Cache != nil {
			components["redis"] = "ok"
			if err := d.Cache.Ping(ctx).Err(); err != nil {
				components["redis"] = err.Error()
				healthy = false
			}
		}
		if d.Chain != nil {
			if tip, err := d.Chain.BlockNumber(ctx); err != nil {
				components["chain"] = err.Error()
			} else {
				components["chain"] = fiber.Map{"tip": tip}
			}
		}
		if d.Poller != nil {
			last, ok := d.Poller.LastBlock()
			components["poller"] = fiber.Map{"idle": d.Poller.Idle(), "initialised": ok, "last_block": last}
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    components,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}

func apiHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}
