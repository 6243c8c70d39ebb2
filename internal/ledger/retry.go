package ledger

import (
	"context"
	"time"
)

// RetryPolicy bounds how often a step is attempted and how long to wait between attempts.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// do runs fn until it succeeds, returns an error retryable rejects,
// or the attempts run out. The backoff doubles after every failure.
func (p RetryPolicy) do(ctx context.Context, retryable func(error) bool, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	wait := p.Backoff

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil || !retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		wait *= 2
	}
	return err
}

func always(error) bool { return true }
