package util

import (
	"context"
	"time"
)

// RetryPolicy bounds an operation's attempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Backoff returns the delay before attempt n (1-based) doubles each time.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n <= 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << (n - 2)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	return d
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// budget runs out or ctx is done. onAttempt, when set, sees every failed
// attempt. It returns the number of attempts made and the last error.
func Retry(ctx context.Context, p RetryPolicy, fn func(context.Context) error, onAttempt func(attempt int, err error)) (int, error) {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		if d := p.Backoff(attempt); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return attempt - 1, ctx.Err()
			case <-t.C:
			}
		}

		err = fn(ctx)
		if err == nil {
			return attempt, nil
		}
		if onAttempt != nil {
			onAttempt(attempt, err)
		}
		if retryable, _ := IsRetryableError(err); !retryable {
			return attempt, err
		}
	}
	return max, err
}
