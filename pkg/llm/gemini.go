package llm

import (
	"context"
	"fmt"

	genai "google.golang.org/genai"
)

// GeminiClient wraps the official genai client behind the Client
// interface. It requests application/json replies, which suits the
// structured evaluation payloads the evaluators expect.
type GeminiClient struct {
	cli   *genai.Client
	model string
}

// NewGeminiClient creates a Gemini-backed client. When apiKey is empty
// the genai client falls back to GEMINI_API_KEY from the environment.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	cfg := &genai.ClientConfig{Backend: genai.BackendGeminiAPI}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	cli, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiClient{cli: cli, model: model}, nil
}

func (g *GeminiClient) Chat(ctx context.Context, msgs []Message, options *SamplingOptions) (*Response, error) {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	if options != nil {
		temp := float32(options.Temperature)
		cfg.Temperature = &temp
		if options.Seed != 0 {
			seed := int32(options.Seed)
			cfg.Seed = &seed
		}
	}

	resp, err := g.cli.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, ErrInvalidJSON
	}

	return &Response{
		Content: resp.Candidates[0].Content.Parts[0].Text,
		Model:   g.model,
	}, nil
}
