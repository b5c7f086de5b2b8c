package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
)

// AnthropicClient wraps the Anthropic SDK.
type AnthropicClient struct {
	client      *anthropic.Client
	model       string
	temperature float64
	maxTokens   int
}

func NewAnthropicClient(cfg ProviderConfig) *AnthropicClient {
	opts := []option.RequestOption{
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: cfg.timeout()}),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	c := anthropic.NewClient(opts...)
	return &AnthropicClient{
		client:      &c,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.maxTokens(),
	}
}

func (c *AnthropicClient) Chat(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	return c.ChatWithHistory(ctx, systemPrompt, []Message{{Role: RoleUser, Content: userMessage}})
}

func (c *AnthropicClient) ChatWithHistory(ctx context.Context, systemPrompt string, messages []Message) (string, error) {
	params := c.params(toAnthropicMessages(messages), systemPrompt)

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}

func (c *AnthropicClient) params(messages []anthropic.MessageParam, systemPrompt string) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(c.maxTokens),
		Messages:    messages,
		Temperature: param.NewOpt(c.temperature),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	return params
}

func toAnthropicMessages(msgs []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, len(msgs))
	for i, m := range msgs {
		if m.Role == RoleAssistant {
			out[i] = anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content))
		} else {
			out[i] = anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content))
		}
	}
	return out
}

// toAnthropicTools converts tool definitions to SDK params.
func toAnthropicTools(tools []ToolDef) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	apiTools := make([]anthropic.ToolUnionParam, len(tools))
	for i, td := range tools {
		props, _ := td.InputSchema["properties"].(map[string]interface{})
		schema := anthropic.ToolInputSchemaParam{
			Properties: props,
			Required:   schemaRequired(td.InputSchema),
		}
		t := anthropic.ToolUnionParamOfTool(schema, td.Name)
		if td.Description != "" {
			t.OfTool.Description = param.NewOpt(td.Description)
		}
		apiTools[i] = t
	}
	return apiTools
}

// schemaRequired reads the "required" list whether it was built in Go
// ([]string) or decoded from JSON ([]interface{}).
func schemaRequired(schema map[string]interface{}) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ChatWithTools sends a message with tool definitions and returns the response,
// which may include tool-use requests.
func (c *AnthropicClient) ChatWithTools(ctx context.Context, systemPrompt string,
	messages []ToolMessage, tools []ToolDef) (*Response, error) {

	apiMessages := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleUser:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
			for _, b := range msg.Content {
				switch b.Type {
				case BlockText:
					blocks = append(blocks, anthropic.NewTextBlock(b.Text))
				case BlockImage:
					if b.Image != nil {
						blocks = append(blocks, anthropic.NewImageBlockBase64(b.Image.MediaType, b.Image.Data))
					}
				}
			}
			apiMessages = append(apiMessages, anthropic.NewUserMessage(blocks...))

		case RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
			for _, b := range msg.Content {
				switch b.Type {
				case BlockText:
					if b.Text != "" {
						blocks = append(blocks, anthropic.NewTextBlock(b.Text))
					}
				case BlockToolUse:
					if b.ToolCall != nil {
						var inputMap map[string]interface{}
						_ = json.Unmarshal(b.ToolCall.Input, &inputMap)
						if inputMap == nil {
							inputMap = map[string]interface{}{}
						}
						blocks = append(blocks, anthropic.NewToolUseBlock(b.ToolCall.ID, inputMap, b.ToolCall.Name))
					}
				}
			}
			apiMessages = append(apiMessages, anthropic.NewAssistantMessage(blocks...))

		case RoleToolResult:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolResults))
			for _, tr := range msg.ToolResults {
				blocks = append(blocks, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
			}
			apiMessages = append(apiMessages, anthropic.NewUserMessage(blocks...))
		}
	}

	params := c.params(apiMessages, systemPrompt)
	params.Tools = toAnthropicTools(tools)

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	result := &Response{
		StopReason: string(resp.StopReason),
		Model:      string(resp.Model),
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			result.Content = append(result.Content, TextBlock(block.Text))
		case "tool_use":
			toolUse := block.AsToolUse()
			result.Content = append(result.Content, ContentBlock{
				Type: BlockToolUse,
				ToolCall: &ToolCall{
					ID:    toolUse.ID,
					Name:  toolUse.Name,
					Input: toolUse.Input,
				},
			})
		}
	}

	return result, nil
}
