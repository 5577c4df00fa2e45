package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Client with a token-bucket limiter so fan-out
// evaluator calls stay within a provider's request budget.
type RateLimited struct {
	next    Client
	limiter *rate.Limiter
}

// NewRateLimited creates a limited client allowing r requests per second
// with the given burst.
func NewRateLimited(next Client, r rate.Limit, burst int) *RateLimited {
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(r, burst),
	}
}

func (c *RateLimited) Chat(ctx context.Context, msgs []Message, options *SamplingOptions) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.next.Chat(ctx, msgs, options)
}
