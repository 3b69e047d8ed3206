package middleware

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/domain"
)

// RateLimiterConfig holds configuration for rate limiting
type RateLimiterConfig struct {
	// Max requests per window
	Max int
	// Window duration
	Window time.Duration
	// KeyGenerator returns the bucket for a request; empty skips limiting
	KeyGenerator func(c *fiber.Ctx) string
}

// VendorKey buckets webhook deliveries by the :vendor route parameter.
func VendorKey(c *fiber.Ctx) string {
	return strings.ToLower(c.Params("vendor"))
}

// DefaultRateLimiterConfig returns default configuration
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Max:          6000,
		Window:       time.Minute,
		KeyGenerator: VendorKey,
	}
}

// windowCounter tracks fixed-window state for one key
type windowCounter struct {
	count      int
	windowEnd  time.Time
	lastAccess time.Time
}

// RateLimiter implements a fixed-window limit per key
type RateLimiter struct {
	config   RateLimiterConfig
	counters map[string]*windowCounter
	mu       sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	defaults := DefaultRateLimiterConfig()
	if config.Max == 0 {
		config.Max = defaults.Max
	}
	if config.Window == 0 {
		config.Window = defaults.Window
	}
	if config.KeyGenerator == nil {
		config.KeyGenerator = defaults.KeyGenerator
	}

	rl := &RateLimiter{
		config:   config,
		counters: make(map[string]*windowCounter),
		done:     make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Stop gracefully shuts down the rate limiter cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

// Handler returns the Fiber middleware handler
func (rl *RateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := rl.config.KeyGenerator(c)
		if key == "" {
			return c.Next()
		}

		now := time.Now()

		rl.mu.Lock()
		counter, exists := rl.counters[key]
		if !exists || now.After(counter.windowEnd) {
			counter = &windowCounter{windowEnd: now.Add(rl.config.Window)}
			rl.counters[key] = counter
		}
		counter.count++
		counter.lastAccess = now
		count := counter.count
		windowEnd := counter.windowEnd
		rl.mu.Unlock()

		remaining := max(rl.config.Max-count, 0)
		c.Set("X-RateLimit-Limit", strconv.Itoa(rl.config.Max))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Set("X-RateLimit-Reset", windowEnd.Format(time.RFC3339))

		if count > rl.config.Max {
			c.Set("Retry-After", strconv.Itoa(max(int(time.Until(windowEnd).Seconds()), 1)))
			return domain.ErrRateLimitExceeded
		}

		return c.Next()
	}
}

// cleanup removes stale entries
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, counter := range rl.counters {
				// Remove entries that haven't been accessed in 2 windows
				if now.Sub(counter.lastAccess) > 2*rl.config.Window {
					delete(rl.counters, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}
