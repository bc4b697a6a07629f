package main

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Kighlander1975/dbe-exercise-file-upload/logging"
)

// rateLimiter hands out one token bucket per client IP.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    time.Duration
	burst    int
}

// newRateLimiter allows perMinute requests per IP with the given burst. A
// non-positive perMinute disables limiting.
func newRateLimiter(perMinute, burst int) *rateLimiter {
	rl := &rateLimiter{limiters: make(map[string]*rate.Limiter), burst: burst}
	if perMinute > 0 {
		rl.every = time.Minute / time.Duration(perMinute)
	}
	if rl.burst <= 0 {
		rl.burst = 1
	}
	return rl
}

func (rl *rateLimiter) limiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok := rl.limiters[ip]; ok {
		return limiter
	}
	limiter := rate.NewLimiter(rate.Every(rl.every), rl.burst)
	rl.limiters[ip] = limiter
	return limiter
}

func (rl *rateLimiter) Allow(ip string) bool {
	if rl.every == 0 {
		return true
	}
	return rl.limiter(ip).Allow()
}

func (rl *rateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !rl.Allow(c.IP()) {
			logging.FromCtx(c).Warn("upload rate limit exceeded", zap.String("ip", c.IP()))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"status":      "error",
				"message":     "Too many uploads, try again later",
				"retry_after": int(rl.every.Seconds()) + 1,
			})
		}
		return c.Next()
	}
}
