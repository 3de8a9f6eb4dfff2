package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter throttles task dispatch using the token bucket algorithm.
//
// This implementation wraps golang.org/x/time/rate:
//   - Tokens are added to the bucket at a constant rate (files per second)
//   - Each dispatched file consumes one token
//   - Burst capacity lets the first files of a run start immediately
//
// A nil *RateLimiter never throttles, so callers can hold one unconditionally.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter with the specified rate and burst capacity.
//
// Parameters:
//   - filesPerSecond: Maximum sustained dispatch rate. Zero or negative
//     disables throttling.
//   - burst: Maximum burst size. Values below 1 are raised to 1 so a
//     positive rate can always make progress.
//
// Returns a configured RateLimiter.
func New(filesPerSecond float64, burst int) *RateLimiter {
	if filesPerSecond <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(filesPerSecond), burst),
	}
}

// Unlimited reports whether r lets every call through immediately.
func (r *RateLimiter) Unlimited() bool {
	return r == nil || r.limiter.Limit() == rate.Inf
}

// Wait blocks until a token is available or ctx is cancelled.
//
// Returns:
//   - nil if a token was acquired
//   - the context error if ctx ended first
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return ctx.Err()
	}
	return r.limiter.Wait(ctx)
}

// Limit returns the configured files per second (0 when unlimited).
func (r *RateLimiter) Limit() float64 {
	if r.Unlimited() {
		return 0
	}
	return float64(r.limiter.Limit())
}
