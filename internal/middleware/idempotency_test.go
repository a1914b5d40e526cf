package middleware

import (
	"io"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/payperplane/payperplane/internal/logging"
)

func setupTestApp(t *testing.T) (*fiber.App, *int) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	calls := 0
	app := fiber.New()
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/fundings/generate", func(c *fiber.Ctx) error {
		calls++
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"id": strconv.Itoa(calls)})
	})
	app.Post("/broken", func(c *fiber.Ctx) error {
		calls++
		return c.Status(fiber.StatusInternalServerError).SendString("boom")
	})
	return app, &calls
}

func post(t *testing.T, app *fiber.App, path, key string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestIdempotencyPassesThroughWithoutHeader(t *testing.T) {
	app, calls := setupTestApp(t)

	_, first := post(t, app, "/fundings/generate", "")
	_, second := post(t, app, "/fundings/generate", "")
	if first == second {
		t.Fatalf("expected distinct responses without a key, got %s twice", first)
	}
	if *calls != 2 {
		t.Fatalf("expected handler to run twice, ran %d", *calls)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, calls := setupTestApp(t)

	status, first := post(t, app, "/fundings/generate", "abc123")
	if status != fiber.StatusOK {
		t.Fatalf("expected status %d got %d", fiber.StatusOK, status)
	}

	// Second request should return the cached response without invoking handler again.
	status, second := post(t, app, "/fundings/generate", "abc123")
	if status != fiber.StatusOK {
		t.Fatalf("expected cached status %d got %d", fiber.StatusOK, status)
	}
	if second != first {
		t.Fatalf("expected cached payload %s got %s", first, second)
	}
	if *calls != 1 {
		t.Fatalf("expected handler to run once, ran %d", *calls)
	}
}

func TestIdempotencyDoesNotStoreServerErrors(t *testing.T) {
	app, calls := setupTestApp(t)

	for range 2 {
		if status, _ := post(t, app, "/broken", "retry-me"); status != fiber.StatusInternalServerError {
			t.Fatalf("expected 500 got %d", status)
		}
	}
	if *calls != 2 {
		t.Fatalf("expected server errors to be retried, handler ran %d times", *calls)
	}
}
