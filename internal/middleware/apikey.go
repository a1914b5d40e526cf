package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

const apiKeyHeader = "X-API-Key"

// APIKey rejects requests whose X-API-Key header does not match expected.
func APIKey(expected string) fiber.Handler {
	want := []byte(expected)
	return func(c *fiber.Ctx) error {
		got := c.Get(apiKeyHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			return fiber.NewError(http.StatusUnauthorized, "Invalid API Key")
		}
		return c.Next()
	}
}
