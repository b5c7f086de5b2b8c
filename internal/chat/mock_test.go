package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/HexSleeves/buzz/internal/llm"
)

// MockToolClient replays scripted responses and records every request.
// Once the script runs out it repeats the last step.
type MockToolClient struct {
	mu       sync.Mutex
	steps    []mockStep
	calls    int
	requests []mockRequest
}

type mockStep struct {
	resp *llm.Response
	err  error
	// before runs ahead of the response, e.g. to cancel a context.
	before func()
}

type mockRequest struct {
	systemPrompt string
	messages     []llm.ToolMessage
	tools        []llm.ToolDef
}

func NewMockToolClient(steps ...mockStep) *MockToolClient {
	return &MockToolClient{steps: steps}
}

func (m *MockToolClient) Chat(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	return "", fmt.Errorf("Chat should not be called on a tool client")
}

func (m *MockToolClient) ChatWithHistory(ctx context.Context, systemPrompt string, messages []llm.Message) (string, error) {
	return "", fmt.Errorf("ChatWithHistory should not be called on a tool client")
}

func (m *MockToolClient) ChatWithTools(ctx context.Context, systemPrompt string, messages []llm.ToolMessage, tools []llm.ToolDef) (*llm.Response, error) {
	m.mu.Lock()
	snapshot := make([]llm.ToolMessage, len(messages))
	copy(snapshot, messages)
	m.requests = append(m.requests, mockRequest{systemPrompt: systemPrompt, messages: snapshot, tools: tools})
	step := m.steps[min(m.calls, len(m.steps)-1)]
	m.calls++
	m.mu.Unlock()

	if step.before != nil {
		step.before()
	}
	if step.err != nil {
		return nil, step.err
	}
	return step.resp, nil
}

func (m *MockToolClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockTextClient only implements llm.Client.
type MockTextClient struct {
	reply      string
	err        error
	lastPrompt string
	lastUser   string
}

func (m *MockTextClient) Chat(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	m.lastPrompt = systemPrompt
	m.lastUser = userMessage
	return m.reply, m.err
}

func (m *MockTextClient) ChatWithHistory(ctx context.Context, systemPrompt string, messages []llm.Message) (string, error) {
	return m.Chat(ctx, systemPrompt, messages[len(messages)-1].Content)
}

// MockRunner answers every call with a canned result naming the call.
type MockRunner struct {
	mu      sync.Mutex
	batches [][]llm.ToolCall
}

func (r *MockRunner) ExecuteBatch(ctx context.Context, calls []llm.ToolCall) []llm.ToolResult {
	r.mu.Lock()
	r.batches = append(r.batches, calls)
	r.mu.Unlock()

	out := make([]llm.ToolResult, len(calls))
	for i, c := range calls {
		out[i] = llm.ToolResult{ToolCallID: c.ID, Content: fmt.Sprintf(`{"success":true,"result":%q}`, c.Name)}
	}
	return out
}

func textResponse(text, stop string) mockStep {
	resp := &llm.Response{StopReason: stop, Usage: llm.Usage{InputTokens: 10, OutputTokens: 5}}
	if text != "" {
		resp.Content = []llm.ContentBlock{llm.TextBlock(text)}
	}
	return mockStep{resp: resp}
}

func toolResponse(calls ...llm.ToolCall) mockStep {
	resp := &llm.Response{StopReason: llm.StopToolUse, Usage: llm.Usage{InputTokens: 10, OutputTokens: 5}}
	for i := range calls {
		resp.Content = append(resp.Content, llm.ContentBlock{Type: llm.BlockToolUse, ToolCall: &calls[i]})
	}
	return mockStep{resp: resp}
}

func call(id, name, input string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Input: json.RawMessage(input)}
}
