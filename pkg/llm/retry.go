package llm

import (
	"context"
	"errors"
	"time"
)

// Retry wraps a Client with bounded exponential backoff. Permanent
// errors and context cancellation end the attempts early.
type Retry struct {
	next     Client
	attempts int
	base     time.Duration
}

// NewRetry creates a retrying client. attempts is the total number of
// tries, base the first backoff delay (doubled per retry).
func NewRetry(next Client, attempts int, base time.Duration) *Retry {
	if attempts < 1 {
		attempts = 1
	}
	return &Retry{next: next, attempts: attempts, base: base}
}

func (r *Retry) Chat(ctx context.Context, msgs []Message, options *SamplingOptions) (*Response, error) {
	var lastErr error
	delay := r.base
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}

		resp, err := r.next.Chat(ctx, msgs, options)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var perm *PermanentError
		if errors.As(err, &perm) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
	}
	return nil, lastErr
}
