package llm

import (
	"context"
	"fmt"
)

// Router picks between a fast local model and a stronger remote one per
// request. Small artifacts do fine on the fast path; large or
// long-context evaluations go to the smart model.
type Router struct {
	fastClient  Client
	smartClient Client

	// sizeThreshold is the prompt length in bytes above which the smart
	// model is used.
	sizeThreshold int
}

// NewRouter creates a router. sizeThreshold <= 0 selects a default of
// 8KB.
func NewRouter(fast, smart Client, sizeThreshold int) *Router {
	if sizeThreshold <= 0 {
		sizeThreshold = 8 * 1024
	}
	return &Router{fastClient: fast, smartClient: smart, sizeThreshold: sizeThreshold}
}

func (r *Router) Chat(ctx context.Context, msgs []Message, options *SamplingOptions) (*Response, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("router: messages must not be empty")
	}

	total := 0
	for _, m := range msgs {
		total += len(m.Content)
	}
	if total > r.sizeThreshold {
		return r.smartClient.Chat(ctx, msgs, options)
	}
	return r.fastClient.Chat(ctx, msgs, options)
}
