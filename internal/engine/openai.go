package engine

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEngine generates candidates through OpenAI's chat completion API
// (or any compatible endpoint via BaseURL).
type OpenAIEngine struct {
	client *openai.Client
	model  string
}

// OpenAIConfig configures the OpenAI engine.
type OpenAIConfig struct {
	// APIKey authenticates the client. Required.
	APIKey string
	// Model is the model identifier used for every call.
	Model string
	// BaseURL overrides the API endpoint for proxies and compatible servers.
	BaseURL string
}

// NewOpenAI creates an OpenAI-backed engine.
func NewOpenAI(cfg OpenAIConfig) (*OpenAIEngine, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai engine: api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai engine: model is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIEngine{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

// Name returns the provider identifier.
func (e *OpenAIEngine) Name() string { return "openai" }

// Generate performs one chat completion call and parses the result.
func (e *OpenAIEngine) Generate(ctx context.Context, req *Request) ([]RawCandidate, error) {
	prompt, err := BuildPrompt(req)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemRole},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, e.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, Transient(fmt.Errorf("openai returned no choices"))
	}
	candidates, err := ParseCandidates(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("openai response: %w", err)
	}
	return candidates, nil
}

func (e *OpenAIEngine) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyHTTPStatus(apiErr.HTTPStatusCode, fmt.Errorf("openai: %w", err))
	}
	return classifyMessage(fmt.Errorf("openai: %w", err))
}
