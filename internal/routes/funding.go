package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/payperplane/payperplane/internal/funding"
)

// RegisterFundingRoutes wires the funding lifecycle endpoints.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler, idempotency, simulateLimit fiber.Handler) {
	group := r.Group("/fundings")
	if idempotency != nil {
		group.Post("/generate", idempotency, h.Generate)
	} else {
		group.Post("/generate", h.Generate)
	}
	group.Get("/:id", h.Get)
	if simulateLimit != nil {
		group.Post("/:id/simulate", simulateLimit, h.Simulate)
	} else {
		group.Post("/:id/simulate", h.Simulate)
	}
}
