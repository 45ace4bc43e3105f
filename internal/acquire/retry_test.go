package acquire

import (
	"context"
	"errors"
	"testing"
	"time"

	"hyperdriveScope/internal/chain"
)

func transientErr(block uint64) error {
	return chain.NewQueryError("getPoolInfo", block, chain.ErrTransientQuery, errors.New("execution reverted"))
}

func TestRetryTransientConverges(t *testing.T) {
	calls := 0
	var retries []int
	err := retryTransient(context.Background(), TransientPolicy{Backoff: time.Millisecond}, func(attempt int, _ error) {
		retries = append(retries, attempt)
	}, func(context.Context) error {
		calls++
		if calls <= 2 {
			return transientErr(1)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Fatalf("unexpected retry attempts: %v", retries)
	}
}

func TestRetryTransientExhaustsAttempts(t *testing.T) {
	calls := 0
	err := retryTransient(context.Background(), TransientPolicy{Backoff: time.Millisecond, MaxAttempts: 3}, nil, func(context.Context) error {
		calls++
		return transientErr(1)
	})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("expected retry exhausted, got %v", err)
	}
	if !errors.Is(err, chain.ErrTransientQuery) {
		t.Fatalf("expected underlying transient error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryTransientExhaustsDuration(t *testing.T) {
	err := retryTransient(context.Background(), TransientPolicy{Backoff: 5 * time.Millisecond, MaxAttempts: 1000, MaxDuration: 20 * time.Millisecond}, nil, func(context.Context) error {
		return transientErr(1)
	})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("expected retry exhausted, got %v", err)
	}
}

func TestRetryTransientPassesOtherErrors(t *testing.T) {
	calls := 0
	connErr := chain.NewQueryError("getPoolInfo", 1, chain.ErrConnectivity, errors.New("connection refused"))
	err := retryTransient(context.Background(), TransientPolicy{Backoff: time.Millisecond}, nil, func(context.Context) error {
		calls++
		return connErr
	})
	if !errors.Is(err, chain.ErrConnectivity) || errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("expected connectivity error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no retries, got %d calls", calls)
	}
}

func TestRetryTransientStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	err := retryTransient(ctx, TransientPolicy{Backoff: time.Hour}, func(int, error) { cancel() }, func(context.Context) error {
		return transientErr(1)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWithRetryBackoff(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 2, time.Millisecond, func(context.Context) error {
		calls++
		return errors.New("boom")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}

	calls = 0
	err = withRetry(context.Background(), 5, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("boom")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("expected success on second call, got %v after %d calls", err, calls)
	}
}
