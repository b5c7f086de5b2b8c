package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// OllamaClient talks to a local Ollama server. It only implements Client:
// with it configured the conversation loop runs in direct mode.
type OllamaClient struct {
	client      *api.Client
	model       string
	temperature float64
	maxTokens   int
}

func NewOllamaClient(cfg ProviderConfig) (*OllamaClient, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "llama3.1:latest"
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}

	return &OllamaClient{
		client:      api.NewClient(parsedURL, &http.Client{Timeout: cfg.timeout()}),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.maxTokens(),
	}, nil
}

func (c *OllamaClient) Chat(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	return c.ChatWithHistory(ctx, systemPrompt, []Message{{Role: RoleUser, Content: userMessage}})
}

func (c *OllamaClient) ChatWithHistory(ctx context.Context, systemPrompt string, messages []Message) (string, error) {
	msgs := make([]api.Message, 0, len(messages)+1)
	if systemPrompt != "" {
		msgs = append(msgs, api.Message{Role: "system", Content: systemPrompt})
	}
	for _, m := range messages {
		msgs = append(msgs, api.Message{Role: m.Role, Content: m.Content})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: msgs,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": c.temperature,
			"num_predict": c.maxTokens,
		},
	}

	var out strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama: %w", err)
	}
	return out.String(), nil
}
