package acquire

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hyperdriveScope/internal/chain"
)

// ErrRetryExhausted is returned when a transient query keeps failing past the
// configured attempt or duration bound.
var ErrRetryExhausted = errors.New("transient retry exhausted")

// Transient retry defaults.
const (
	DefaultTransientBackoff     = 100 * time.Millisecond
	DefaultTransientMaxAttempts = 50
	DefaultTransientMaxDuration = 2 * time.Minute
)

// TransientPolicy bounds same-block retries of transient query failures.
type TransientPolicy struct {
	Backoff     time.Duration
	MaxAttempts int
	MaxDuration time.Duration
}

func (p TransientPolicy) withDefaults() TransientPolicy {
	if p.Backoff <= 0 {
		p.Backoff = DefaultTransientBackoff
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultTransientMaxAttempts
	}
	if p.MaxDuration <= 0 {
		p.MaxDuration = DefaultTransientMaxDuration
	}
	return p
}

// retryTransient runs fn until it succeeds, fails with a non-transient error,
// or the policy is exhausted. Retries use a fixed backoff. onRetry is called
// before each retry sleep.
func retryTransient(ctx context.Context, policy TransientPolicy, onRetry func(attempt int, err error), fn func(context.Context) error) error {
	policy = policy.withDefaults()
	started := time.Now()

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !errors.Is(err, chain.ErrTransientQuery) {
			return err
		}
		if attempt >= policy.MaxAttempts || time.Since(started) >= policy.MaxDuration {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, err)
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if !sleep(ctx, policy.Backoff) {
			return ctx.Err()
		}
	}
}

// withRetry retries fn with exponential backoff, up to maxRetries times.
func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	delay := baseDelay
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= maxRetries || ctx.Err() != nil {
			return err
		}
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
		delay *= 2
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return false
	case <-timer.C:
		return true
	}
}
