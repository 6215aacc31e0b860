package review

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiProvider completes prompts through the Gemini API.
type GeminiProvider struct {
	client    *genai.Client
	model     string
	maxTokens int32
}

// NewGeminiProvider creates the provider. Model defaults to a flash-tier
// model suitable for structured review output, maxTokens to the package
// default.
func NewGeminiProvider(ctx context.Context, apiKey, model string, maxTokens int) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("review: gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if maxTokens <= 0 {
		maxTokens = maxOutputTokens
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("review: create gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model, maxTokens: int32(maxTokens)}, nil
}

// Name returns the provider label recorded on the review meta.
func (p *GeminiProvider) Name() string { return "gemini" }

// Complete runs one deterministic generation: temperature zero, bounded
// output tokens.
func (p *GeminiProvider) Complete(ctx context.Context, system, user string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(user, genai.RoleUser),
	}
	result, err := p.client.Models.GenerateContent(ctx, p.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
		MaxOutputTokens:   p.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("review: gemini generate: %w", err)
	}
	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("review: gemini returned an empty reply")
	}
	return text, nil
}
