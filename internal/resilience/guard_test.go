package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCall_RetriesIdempotent(t *testing.T) {
	g := NewGuard("upcitemdb", NewServiceBreakers(DefaultCircuitBreakerConfig()), fastRetry(3))
	var calls int
	v, err := Call(context.Background(), g, "search", true, func(_ context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, NewTransientError(errors.New("busy"), 429)
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 2, calls)
}

func TestCall_NonIdempotentSingleAttempt(t *testing.T) {
	g := NewGuard("getimg", nil, fastRetry(3))
	var calls int
	_, err := Call(context.Background(), g, "upscale", false, func(_ context.Context) (string, error) {
		calls++
		return "", NewTransientError(errors.New("busy"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestCall_OpenBreakerRejects(t *testing.T) {
	sb := NewServiceBreakers(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	g := NewGuard("openai", sb, fastRetry(1))
	_, _ = Call(context.Background(), g, "identify", true, func(_ context.Context) (string, error) {
		return "", errors.New("boom")
	})

	_, err := Call(context.Background(), g, "identify", true, func(_ context.Context) (string, error) {
		t.Error("should not be called")
		return "", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCall_NilGuard(t *testing.T) {
	v, err := Call(context.Background(), nil, "x", true, func(_ context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestFromConfig(t *testing.T) {
	r := FromRetryConfig(5, 100, 2000)
	assert.Equal(t, 5, r.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, r.InitialBackoff)
	assert.Equal(t, 2*time.Second, r.MaxBackoff)

	assert.Equal(t, DefaultRetryConfig().MaxAttempts, FromRetryConfig(0, 0, 0).MaxAttempts)

	c := FromCircuitConfig(3, 60)
	assert.Equal(t, 3, c.FailureThreshold)
	assert.Equal(t, time.Minute, c.ResetTimeout)
}
