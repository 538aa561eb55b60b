package retry

import (
	"context"
	"time"

	"github.com/googleapis/gax-go/v2"
)

// DefaultBackoff is used for provider and classifier calls.
func DefaultBackoff() gax.Backoff {
	return gax.Backoff{
		Initial:    500 * time.Millisecond,
		Max:        10 * time.Second,
		Multiplier: 2,
	}
}

// Do calls fn up to attempts times, sleeping with backoff between tries.
// Only errors accepted by retryable are retried; the last error is returned.
func Do(ctx context.Context, attempts int, backoff gax.Backoff, retryable func(error) bool, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !retryable(err) || i == attempts-1 {
			return err
		}
		if sleepErr := gax.Sleep(ctx, backoff.Pause()); sleepErr != nil {
			return err
		}
	}
	return err
}
