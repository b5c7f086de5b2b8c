package llm

import (
	"fmt"
	"time"
)

// ProviderConfig holds what's needed to construct an LLM client.
// Temperature and MaxTokens are fixed for the lifetime of the client.
type ProviderConfig struct {
	Provider    string // "anthropic", "openai", "gemini", "ollama", "demo"
	Model       string
	APIKey      string
	BaseURL     string // optional: override API base URL (for OpenAI-compatible endpoints)
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

func (c ProviderConfig) maxTokens() int {
	if c.MaxTokens <= 0 {
		return 4096
	}
	return c.MaxTokens
}

func (c ProviderConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 120 * time.Second
	}
	return c.Timeout
}

// NewFromConfig creates the appropriate Client based on provider name.
// anthropic, openai and gemini support tool use (ToolClient); ollama and
// demo only support basic chat (Client).
func NewFromConfig(cfg ProviderConfig) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicClient(cfg), nil

	case "openai":
		return NewOpenAIClient(cfg), nil

	case "gemini", "google":
		return NewGeminiClient(cfg), nil

	case "ollama":
		return NewOllamaClient(cfg)

	case "demo":
		return NewDemoClient(), nil

	case "":
		return nil, fmt.Errorf("no LLM provider configured (set llm.provider in buzz.json)")

	default:
		return nil, fmt.Errorf("unknown LLM provider: %q (supported: anthropic, openai, gemini, ollama, demo)", cfg.Provider)
	}
}
