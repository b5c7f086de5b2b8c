// Package llm provides a provider-agnostic interface for LLM calls.
package llm

import "context"

// Message represents a single conversation turn.
type Message struct {
	Role    string
	Content string
}

// Client is the single-shot interface every provider implements. It is what
// the conversation loop falls back to when no tools are enabled.
type Client interface {
	Chat(ctx context.Context, systemPrompt, userMessage string) (string, error)
	ChatWithHistory(ctx context.Context, systemPrompt string, messages []Message) (string, error)
}

// ToolClient extends Client with tool-use capability.
// Providers that support structured tool calls (Anthropic, OpenAI, Gemini) implement this.
// Passing no tools makes ChatWithTools a plain converse call that still
// carries images and the normalized stop reason.
type ToolClient interface {
	Client
	ChatWithTools(ctx context.Context, systemPrompt string,
		messages []ToolMessage, tools []ToolDef) (*Response, error)
}
