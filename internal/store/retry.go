package store

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures how partially failed batch writes are retried
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryConfig retries twice after the first attempt, waiting 100ms
// and then 200ms
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:    2,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// calculateDelay returns the wait before retry number n (1-based)
func (c *RetryConfig) calculateDelay(retry int) time.Duration {
	// Exponential backoff: delay = initial_delay * (backoff_factor ^ (retry - 1))
	delay := float64(c.InitialDelay) * math.Pow(c.BackoffFactor, float64(retry-1))

	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	if c.JitterEnabled {
		delay += rand.Float64() * 0.1 * delay // Up to 10% jitter
	}

	return time.Duration(delay)
}

// sleep waits for d or until ctx is done, whichever comes first
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
