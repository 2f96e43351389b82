package resilience

import (
	"context"
	"errors"
	"time"
)

// maxBackoff caps the delay between attempts.
const maxBackoff = 5 * time.Second

// Retry calls fn up to attempts times, doubling the delay after every
// failure. It stops early when ctx is done or fn reports ErrCircuitOpen,
// and returns the last error.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := range attempts {
		if err = fn(ctx); err == nil {
			return nil
		}
		if errors.Is(err, ErrCircuitOpen) || i == attempts-1 {
			break
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
		delay = min(delay*2, maxBackoff)
	}
	return err
}
