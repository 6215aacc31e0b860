package review

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const maxOutputTokens = 2000

// AnthropicProvider completes prompts through the Anthropic Messages API.
type AnthropicProvider struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicProvider creates the provider. Model defaults to the current
// fast tier, maxTokens to the package default.
func NewAnthropicProvider(apiKey, model string, maxTokens int) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("review: anthropic API key is required")
	}
	if model == "" {
		model = string(anthropic.ModelClaudeHaiku4_5)
	}
	if maxTokens <= 0 {
		maxTokens = maxOutputTokens
	}
	return &AnthropicProvider{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		maxTokens: int64(maxTokens),
	}, nil
}

// Name returns the provider label recorded on the review meta.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete runs one deterministic generation: temperature zero, bounded
// output tokens.
func (p *AnthropicProvider) Complete(ctx context.Context, system, user string) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		Temperature: anthropic.Float(0),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("review: anthropic messages: %w", err)
	}
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("review: anthropic returned an empty reply")
	}
	return text, nil
}
