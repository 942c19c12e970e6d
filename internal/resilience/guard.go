package resilience

import (
	"context"
	"time"
)

// Guard applies one service's breaker and retry policy to collaborator calls.
// A nil *Guard runs calls unguarded.
type Guard struct {
	Service string
	Retry   RetryConfig
	Breaker *CircuitBreaker
}

// NewGuard returns a Guard for service using its breaker from breakers.
func NewGuard(service string, breakers *ServiceBreakers, retry RetryConfig) *Guard {
	g := &Guard{Service: service, Retry: retry}
	if breakers != nil {
		g.Breaker = breakers.Get(service)
	}
	return g
}

// Call runs fn through the breaker. Only idempotent calls are retried.
func Call[T any](ctx context.Context, g *Guard, op string, idempotent bool, fn func(ctx context.Context) (T, error)) (T, error) {
	if g == nil {
		return fn(ctx)
	}
	attempt := fn
	if g.Breaker != nil {
		attempt = func(ctx context.Context) (T, error) {
			return ExecuteVal(ctx, g.Breaker, fn)
		}
	}
	if !idempotent {
		return attempt(ctx)
	}
	cfg := g.Retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = RetryLogger(g.Service, op)
	}
	return DoVal(ctx, cfg, attempt)
}

// FromRetryConfig converts config values to a RetryConfig.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	return cfg
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}
