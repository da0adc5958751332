package engine

import (
	"context"
	"time"
)

// RetryPolicy bounds the retry loop around each agent call.
type RetryPolicy struct {
	MaxAttempts                    int           `json:"max_attempts"`
	RetryDelay                     time.Duration `json:"retry_delay"`
	ExponentialBackoff             bool          `json:"exponential_backoff"`
	MaxDelay                       time.Duration `json:"max_delay"`
	RetryOnLowConfidence           bool          `json:"retry_on_low_confidence"`
	ConfidenceImprovementThreshold float64       `json:"confidence_improvement_threshold"`
}

// DefaultRetryPolicy returns 3 attempts, 1s delay, no backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:                    3,
		RetryDelay:                     time.Second,
		ExponentialBackoff:             false,
		MaxDelay:                       10 * time.Second,
		RetryOnLowConfidence:           false,
		ConfidenceImprovementThreshold: 0.1,
	}
}

// Delay returns the pause after failed attempt number attempt (1-based).
// Without exponential backoff it is base unchanged; with it base doubles
// per attempt and is capped at MaxDelay when MaxDelay is positive.
func (p RetryPolicy) Delay(base time.Duration, attempt int) time.Duration {
	if !p.ExponentialBackoff || attempt <= 1 {
		return p.capped(base)
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return p.capped(delay)
}

func (p RetryPolicy) capped(d time.Duration) time.Duration {
	if p.ExponentialBackoff && p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// WaitForBackoff sleeps for delay or returns early with ctx's error.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
