// Package llm provides the model clients used by LLM-backed evaluators.
//
// Clients are thin wrappers around one provider API each. Cross-cutting
// concerns (rate limiting, circuit breaking, retries) are middleware
// layers that wrap the Client interface.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Message is one turn of a chat exchange.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SamplingOptions pin the sampling parameters. Evaluator calls always
// use zero temperature and a fixed seed so repeated runs over the same
// artifact are comparable.
type SamplingOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	Seed        int64   `json:"seed"`
}

// Response is the provider-neutral completion result.
type Response struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

// Client is the minimal surface every provider adapter implements.
type Client interface {
	Chat(ctx context.Context, messages []Message, options *SamplingOptions) (*Response, error)
}

// ErrInvalidJSON reports a model reply that did not contain usable JSON.
var ErrInvalidJSON = errors.New("llm: invalid json in model reply")

// PermanentError marks failures that will not resolve with retries, such
// as schema-invalid output. Retry middleware gives up on these
// immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// NewPermanentError wraps err as non-retryable.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// GenerateJSON sends prompt plus a JSON-encoded input block and returns
// the model's JSON reply, with any surrounding markdown fence stripped.
func GenerateJSON(ctx context.Context, c Client, prompt string, input any) (json.RawMessage, error) {
	in, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return nil, err
	}
	full := prompt + "\n\n[INPUT JSON]\n" + string(in)

	resp, err := c.Chat(ctx, []Message{{Role: "user", Content: full}}, &SamplingOptions{Seed: 1})
	if err != nil {
		return nil, err
	}

	raw := stripFences(resp.Content)
	if !json.Valid([]byte(raw)) {
		return nil, NewPermanentError(ErrInvalidJSON)
	}
	return json.RawMessage(raw), nil
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
