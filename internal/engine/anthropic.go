package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicMaxTokens bounds the completion; candidate JSON is small but
// evidence quotes can be long.
const anthropicMaxTokens = 4096

// AnthropicEngine generates candidates through the Anthropic Messages API.
type AnthropicEngine struct {
	client anthropic.Client
	model  string
}

// AnthropicConfig configures the Anthropic engine.
type AnthropicConfig struct {
	// APIKey authenticates the client. Required.
	APIKey string
	// Model is the model identifier used for every call.
	Model string
	// BaseURL overrides the API endpoint.
	BaseURL string
}

// NewAnthropic creates an Anthropic-backed engine.
func NewAnthropic(cfg AnthropicConfig) (*AnthropicEngine, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic engine: api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("anthropic engine: model is required")
	}
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicEngine{
		client: anthropic.NewClient(options...),
		model:  cfg.Model,
	}, nil
}

// Name returns the provider identifier.
func (e *AnthropicEngine) Name() string { return "anthropic" }

// Generate performs one Messages call and parses the result.
func (e *AnthropicEngine) Generate(ctx context.Context, req *Request) ([]RawCandidate, error) {
	prompt, err := BuildPrompt(req)
	if err != nil {
		return nil, err
	}

	msg, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: anthropicMaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemRole},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, e.classify(err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return nil, Transient(fmt.Errorf("anthropic returned no text content"))
	}
	candidates, err := ParseCandidates(b.String())
	if err != nil {
		return nil, fmt.Errorf("anthropic response: %w", err)
	}
	return candidates, nil
}

func (e *AnthropicEngine) classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyHTTPStatus(apiErr.StatusCode, fmt.Errorf("anthropic: %w", err))
	}
	return classifyMessage(fmt.Errorf("anthropic: %w", err))
}
