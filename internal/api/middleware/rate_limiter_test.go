package middleware

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLimitedApp(rl *RateLimiter) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(discardLogger())})
	app.Post("/webhooks/:vendor", rl.Handler(), func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})
	return app
}

func TestRateLimiter(t *testing.T) {
	t.Run("allows requests within limit", func(t *testing.T) {
		rl := NewRateLimiter(RateLimiterConfig{Max: 5, Window: time.Minute})
		defer rl.Stop()
		app := newLimitedApp(rl)

		for i := 0; i < 5; i++ {
			resp, err := app.Test(httptest.NewRequest("POST", "/webhooks/veriff", nil))
			assert.NoError(t, err)
			assert.Equal(t, 200, resp.StatusCode)

			body, _ := io.ReadAll(resp.Body)
			assert.Equal(t, "OK", string(body))
		}
	})

	t.Run("blocks requests over limit", func(t *testing.T) {
		rl := NewRateLimiter(RateLimiterConfig{Max: 2, Window: time.Minute})
		defer rl.Stop()
		app := newLimitedApp(rl)

		for i := 0; i < 2; i++ {
			resp, _ := app.Test(httptest.NewRequest("POST", "/webhooks/veriff", nil))
			assert.Equal(t, 200, resp.StatusCode)
		}

		resp, _ := app.Test(httptest.NewRequest("POST", "/webhooks/veriff", nil))
		assert.Equal(t, 429, resp.StatusCode)
		assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	})

	t.Run("vendors have separate buckets", func(t *testing.T) {
		rl := NewRateLimiter(RateLimiterConfig{Max: 1, Window: time.Minute})
		defer rl.Stop()
		app := newLimitedApp(rl)

		resp, _ := app.Test(httptest.NewRequest("POST", "/webhooks/veriff", nil))
		assert.Equal(t, 200, resp.StatusCode)
		resp, _ = app.Test(httptest.NewRequest("POST", "/webhooks/generic", nil))
		assert.Equal(t, 200, resp.StatusCode)
		resp, _ = app.Test(httptest.NewRequest("POST", "/webhooks/VERIFF", nil))
		assert.Equal(t, 429, resp.StatusCode)
	})

	t.Run("window resets", func(t *testing.T) {
		rl := NewRateLimiter(RateLimiterConfig{Max: 1, Window: 50 * time.Millisecond})
		defer rl.Stop()
		app := newLimitedApp(rl)

		resp, _ := app.Test(httptest.NewRequest("POST", "/webhooks/veriff", nil))
		assert.Equal(t, 200, resp.StatusCode)
		resp, _ = app.Test(httptest.NewRequest("POST", "/webhooks/veriff", nil))
		assert.Equal(t, 429, resp.StatusCode)

		time.Sleep(60 * time.Millisecond)

		resp, _ = app.Test(httptest.NewRequest("POST", "/webhooks/veriff", nil))
		assert.Equal(t, 200, resp.StatusCode)
	})

	t.Run("empty key skips limiting", func(t *testing.T) {
		rl := NewRateLimiter(RateLimiterConfig{
			Max:          1,
			KeyGenerator: func(*fiber.Ctx) string { return "" },
		})
		defer rl.Stop()
		app := newLimitedApp(rl)

		for i := 0; i < 3; i++ {
			resp, _ := app.Test(httptest.NewRequest("POST", "/webhooks/veriff", nil))
			assert.Equal(t, 200, resp.StatusCode)
		}
	})

	t.Run("sets headers", func(t *testing.T) {
		rl := NewRateLimiter(RateLimiterConfig{Max: 10, Window: time.Minute})
		defer rl.Stop()
		app := newLimitedApp(rl)

		resp, _ := app.Test(httptest.NewRequest("POST", "/webhooks/veriff", nil))
		assert.Equal(t, "10", resp.Header.Get("X-RateLimit-Limit"))
		assert.Equal(t, "9", resp.Header.Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Reset"))
	})
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{})
	assert.NotPanics(t, func() {
		rl.Stop()
		rl.Stop()
	})
}
