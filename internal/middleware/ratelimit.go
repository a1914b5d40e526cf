package middleware

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const simulateRateLimitPrefix = "rl:simulate:"

// SimulateRateLimit caps simulate calls per funding id using a fixed one-minute
// window in Redis. It is a no-op without Redis and fails open on cache errors.
func SimulateRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 10
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		id := c.Params("id")
		if id == "" {
			id = c.IP()
		}
		key := simulateRateLimitPrefix + id
		var incr *redis.IntCmd
		// INCR and EXPIRE NX share one transaction; the counter always has a TTL.
		_, err := cache.TxPipelined(c.UserContext(), func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(c.UserContext(), key)
			pipe.ExpireNX(c.UserContext(), key, time.Minute)
			return nil
		})
		if err != nil {
			return c.Next()
		}
		if incr.Val() > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many simulate requests for this funding, try again later")
		}
		return c.Next()
	}
}
