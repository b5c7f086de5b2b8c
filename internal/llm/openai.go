package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIClient implements Client and ToolClient for OpenAI-compatible APIs.
// Works with OpenAI, Azure OpenAI, OpenRouter and any compatible endpoint.
type OpenAIClient struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
}

func NewOpenAIClient(cfg ProviderConfig) *OpenAIClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}
	opts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: cfg.timeout()}),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	return &OpenAIClient{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.maxTokens(),
	}
}

func (c *OpenAIClient) Chat(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	return c.ChatWithHistory(ctx, systemPrompt, []Message{{Role: RoleUser, Content: userMessage}})
}

func (c *OpenAIClient) ChatWithHistory(ctx context.Context, systemPrompt string, messages []Message) (string, error) {
	var msgs []openai.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(systemPrompt))
	}
	for _, m := range messages {
		if m.Role == RoleAssistant {
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		} else {
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	resp, err := c.complete(ctx, msgs, nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// ChatWithTools sends messages with tool definitions using OpenAI function calling.
func (c *OpenAIClient) ChatWithTools(ctx context.Context, systemPrompt string,
	messages []ToolMessage, tools []ToolDef) (*Response, error) {

	var msgs []openai.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(systemPrompt))
	}

	for _, msg := range messages {
		switch msg.Role {
		case RoleUser:
			msgs = append(msgs, toOpenAIUserMessage(msg.Content))

		case RoleAssistant:
			var text string
			var calls []openai.ChatCompletionMessageToolCallUnionParam
			for _, b := range msg.Content {
				switch b.Type {
				case BlockText:
					text += b.Text
				case BlockToolUse:
					if b.ToolCall == nil {
						continue
					}
					args := string(b.ToolCall.Input)
					if args == "" {
						args = "{}"
					}
					calls = append(calls, openai.ChatCompletionMessageToolCallUnionParam{
						OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
							ID: b.ToolCall.ID,
							Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
								Name:      b.ToolCall.Name,
								Arguments: args,
							},
						},
					})
				}
			}
			m := openai.AssistantMessage(text)
			m.OfAssistant.ToolCalls = calls
			msgs = append(msgs, m)

		case RoleToolResult:
			// OpenAI expects one tool message per result
			for _, tr := range msg.ToolResults {
				msgs = append(msgs, openai.ToolMessage(tr.Content, tr.ToolCallID))
			}
		}
	}

	return c.complete(ctx, msgs, toOpenAITools(tools))
}

func toOpenAIUserMessage(blocks []ContentBlock) openai.ChatCompletionMessageParamUnion {
	hasImage := false
	for _, b := range blocks {
		if b.Type == BlockImage && b.Image != nil {
			hasImage = true
			break
		}
	}
	if !hasImage {
		var text string
		for _, b := range blocks {
			if b.Type == BlockText {
				text += b.Text
			}
		}
		return openai.UserMessage(text)
	}

	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case BlockText:
			parts = append(parts, openai.TextContentPart(b.Text))
		case BlockImage:
			if b.Image == nil {
				continue
			}
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: fmt.Sprintf("data:%s;base64,%s", b.Image.MediaType, b.Image.Data),
			}))
		}
	}
	return openai.UserMessage(parts)
}

func toOpenAITools(tools []ToolDef) []openai.ChatCompletionToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, len(tools))
	for i, td := range tools {
		params := openai.FunctionParameters{}
		for k, v := range td.InputSchema {
			params[k] = v
		}
		if _, ok := params["type"]; !ok {
			params["type"] = "object"
		}
		out[i] = openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        td.Name,
					Description: openai.String(td.Description),
					Parameters:  params,
				},
			},
		}
	}
	return out
}

func (c *OpenAIClient) complete(ctx context.Context, msgs []openai.ChatCompletionMessageParamUnion,
	tools []openai.ChatCompletionToolUnionParam) (*Response, error) {

	params := openai.ChatCompletionNewParams{
		Messages:            msgs,
		Model:               openai.ChatModel(c.model),
		Tools:               tools,
		Temperature:         openai.Float(c.temperature),
		MaxCompletionTokens: openai.Int(int64(c.maxTokens)),
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices in response")
	}

	choice := completion.Choices[0]
	result := &Response{
		Model: completion.Model,
		Usage: Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}

	if choice.Message.Content != "" {
		result.Content = append(result.Content, TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		result.Content = append(result.Content, ContentBlock{
			Type: BlockToolUse,
			ToolCall: &ToolCall{
				ID:    tc.ID,
				Name:  tc.Function.Name,
				Input: []byte(tc.Function.Arguments),
			},
		})
	}

	switch choice.FinishReason {
	case "tool_calls":
		result.StopReason = StopToolUse
	case "length":
		result.StopReason = StopMaxTokens
	default:
		result.StopReason = StopEndTurn
	}
	// Some compatible servers report "stop" alongside tool calls.
	if len(choice.Message.ToolCalls) > 0 {
		result.StopReason = StopToolUse
	}

	return result, nil
}
