package broker

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter spaces calls to the venue with a token bucket.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows burst calls, refilling one token every refillRate.
func NewRateLimiter(burst int, refillRate time.Duration) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Every(refillRate), burst)}
}

// NewRateLimiterPerSecond returns nil (no limiting) when perSec <= 0.
func NewRateLimiterPerSecond(perSec int) *RateLimiter {
	if perSec <= 0 {
		return nil
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(perSec), perSec)}
}

// Wait blocks until a token is available or ctx is done. A nil limiter never blocks.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	return rl.limiter.Wait(ctx)
}
