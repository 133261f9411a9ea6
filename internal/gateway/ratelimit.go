package gateway

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Gateway so that Spawn calls are admitted by a
// token-bucket limiter, protecting downstream worker infrastructure from a
// runner that would otherwise spawn as fast as canSpawn() allows.
type RateLimited struct {
	inner   Gateway
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with a token bucket of the given rate (per
// second) and burst size. A non-positive rate disables limiting.
func NewRateLimited(inner Gateway, perSecond float64, burst int) *RateLimited {
	if perSecond <= 0 {
		return &RateLimited{inner: inner, limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	return &RateLimited{inner: inner, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Spawn blocks until the limiter admits this call, then delegates.
func (r *RateLimited) Spawn(ctx context.Context, req SpawnRequest) SpawnResult {
	if err := r.limiter.Wait(ctx); err != nil {
		return SpawnResult{Error: "rate limiter: " + err.Error()}
	}
	return r.inner.Spawn(ctx, req)
}

// Status is not rate-limited: polling an in-flight run is cheap and must
// not be starved by spawn-side admission control.
func (r *RateLimited) Status(ctx context.Context, runID string) StatusResult {
	return r.inner.Status(ctx, runID)
}

// Cancel delegates unconditionally.
func (r *RateLimited) Cancel(ctx context.Context, runID string) error {
	return r.inner.Cancel(ctx, runID)
}

var _ Gateway = (*RateLimited)(nil)
