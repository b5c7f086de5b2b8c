package llm

import (
	"encoding/json"
	"strings"
)

// Message roles.
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleToolResult = "tool_result"
)

// Content block types.
const (
	BlockText    = "text"
	BlockImage   = "image"
	BlockToolUse = "tool_use"
)

// Normalized stop reasons. Providers map their own finish signals onto these.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// ToolDef defines a tool the LLM can call.
type ToolDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ToolCall represents the LLM requesting a tool invocation.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the response to a tool call.
type ToolResult struct {
	ToolCallID string `json:"tool_use_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Image is an inline base64 image attached to a user turn.
type Image struct {
	MediaType string `json:"media_type"` // e.g. "image/png"
	Data      string `json:"data"`
}

// ContentBlock is a single block in a message (text, image or tool_use).
type ContentBlock struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	Image    *Image    `json:"image,omitempty"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
}

// Usage reports token accounting for one round-trip.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the LLM's response, possibly containing tool calls.
type Response struct {
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"` // "end_turn", "tool_use", "max_tokens"
	Model      string         `json:"model,omitempty"`
	Usage      Usage          `json:"usage"`
}

// Text concatenates the text blocks of the response.
func (r *Response) Text() string {
	var b strings.Builder
	for _, block := range r.Content {
		if block.Type == BlockText {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// ToolCalls returns the tool requests in emission order.
func (r *Response) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, block := range r.Content {
		if block.Type == BlockToolUse && block.ToolCall != nil {
			calls = append(calls, *block.ToolCall)
		}
	}
	return calls
}

// ToolMessage is a rich message that can contain text, tool calls, or tool results.
type ToolMessage struct {
	Role        string         `json:"role"` // "user", "assistant", "tool_result"
	Content     []ContentBlock `json:"content,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
}

// TextBlock is shorthand for a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ImageBlock is shorthand for an inline image block.
func ImageBlock(mediaType, data string) ContentBlock {
	return ContentBlock{Type: BlockImage, Image: &Image{MediaType: mediaType, Data: data}}
}
