package upcitemdb

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// adaptiveLimiter slows down after a 429 and recovers gradually on success,
// never exceeding the configured rate.
type adaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	maxRate rate.Limit
	minRate rate.Limit
	current rate.Limit
}

func newAdaptiveLimiter(r rate.Limit, burst int) *adaptiveLimiter {
	return &adaptiveLimiter{
		limiter: rate.NewLimiter(r, burst),
		maxRate: r,
		minRate: r / 8,
		current: r,
	}
}

func (a *adaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

func (a *adaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.current * 1.25
	if next > a.maxRate {
		next = a.maxRate
	}
	a.current = next
	a.limiter.SetLimit(next)
}

func (a *adaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.current / 2
	if next < a.minRate {
		next = a.minRate
	}
	a.current = next
	a.limiter.SetLimit(next)
	zap.L().Warn("upcitemdb: rate limited, slowing down", zap.Float64("rate", float64(next)))
}

func (a *adaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}
