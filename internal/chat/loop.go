// Package chat runs one assistant turn: the tool-calling conversation loop
// and the service that persists its input and output.
package chat

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/HexSleeves/buzz/internal/config"
	"github.com/HexSleeves/buzz/internal/errors"
	"github.com/HexSleeves/buzz/internal/llm"
)

// MaxRoundTrips caps provider calls per reply.
const MaxRoundTrips = 5

const (
	FallbackNoText    = "I'm sorry, I couldn't generate a response."
	FallbackMaxTokens = "I'm sorry, I reached my response limit before finishing. Please try a more specific question."
	FallbackMaxRounds = "I'm sorry, I reached the maximum number of tool iterations while working on this. Please try rephrasing your question."
)

const toolSystemPrompt = `You are a helpful assistant. You can call tools to look up the current time,
do arithmetic, and browse or search the user's previous conversations.
Call a tool whenever it gives a more accurate answer than guessing.
Answer in plain, concise language.`

const directSystemPrompt = `You are a helpful assistant. Answer in plain, concise language.`

// ToolRunner executes one batch of tool calls, returning one result per call
// in call order. *tools.Executor satisfies it.
type ToolRunner interface {
	ExecuteBatch(ctx context.Context, calls []llm.ToolCall) []llm.ToolResult
}

// Request is one user turn.
type Request struct {
	Message string
	// Attachments are extra blocks (images, inlined documents) sent with the
	// first turn only.
	Attachments []llm.ContentBlock
	// Tools is the enabled tool set. Empty means direct mode.
	Tools  []llm.ToolDef
	Runner ToolRunner
}

// Outcome is the result of a reply. Text is always set unless Kind is
// KindCanceled.
type Outcome struct {
	Text       string
	Kind       errors.Kind // empty on a normal finish
	Err        error
	RoundTrips int
	ToolCalls  int
	Usage      llm.Usage
}

// Converser drives the provider for one reply at a time. It holds no
// per-request state and is safe for concurrent use.
type Converser struct {
	client llm.Client
	cfg    config.LLMConfig
	logger *log.Logger
}

func NewConverser(client llm.Client, cfg config.LLMConfig) *Converser {
	return &Converser{
		client: client,
		cfg:    cfg,
		logger: log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (c *Converser) SetLogger(l *log.Logger) {
	c.logger = l
}

// Reply answers req. Provider failures become explanatory text rather than
// errors; only cancellation leaves Text empty.
func (c *Converser) Reply(ctx context.Context, req Request) Outcome {
	tc, ok := c.client.(llm.ToolClient)
	if !ok || len(req.Tools) == 0 || req.Runner == nil {
		return c.direct(ctx, req)
	}

	messages := []llm.ToolMessage{{Role: llm.RoleUser, Content: userContent(req)}}
	systemPrompt := c.systemPrompt(toolSystemPrompt)

	var out Outcome
	for out.RoundTrips < MaxRoundTrips {
		if err := ctx.Err(); err != nil {
			return canceled(out, err)
		}

		out.RoundTrips++
		resp, err := tc.ChatWithTools(ctx, systemPrompt, messages, req.Tools)
		if err != nil {
			if ctx.Err() != nil {
				return canceled(out, ctx.Err())
			}
			return c.providerFailure(out, err)
		}
		addUsage(&out, resp.Usage)

		messages = append(messages, llm.ToolMessage{Role: llm.RoleAssistant, Content: resp.Content})
		if text := resp.Text(); text != "" {
			c.logger.Printf("💬 Assistant: %s", preview(text))
		}

		calls := resp.ToolCalls()
		if resp.StopReason != llm.StopToolUse || len(calls) == 0 {
			out.Text = finalText(resp)
			return out
		}

		if out.RoundTrips == MaxRoundTrips {
			// Results would have no round-trip left to reach the provider.
			break
		}
		for _, call := range calls {
			c.logger.Printf("  🔧 Tool: %s", call.Name)
		}
		results := req.Runner.ExecuteBatch(ctx, calls)
		for _, r := range results {
			if r.IsError {
				c.logger.Printf("  ⚠ Tool error: %s", preview(r.Content))
			} else {
				c.logger.Printf("  ✓ Result: %s", preview(r.Content))
			}
		}
		out.ToolCalls += len(calls)

		messages = append(messages, llm.ToolMessage{Role: llm.RoleToolResult, ToolResults: results})
	}

	c.logger.Printf("⚠ Stopped after %d round-trips with tool calls still pending", out.RoundTrips)
	out.Kind = errors.KindIterationLimit
	out.Text = FallbackMaxRounds
	return out
}

// direct makes a single provider call with no tool schema.
func (c *Converser) direct(ctx context.Context, req Request) Outcome {
	if err := ctx.Err(); err != nil {
		return canceled(Outcome{}, err)
	}

	out := Outcome{RoundTrips: 1}
	systemPrompt := c.withKnowledgeBase(c.systemPrompt(directSystemPrompt))

	if tc, ok := c.client.(llm.ToolClient); ok {
		resp, err := tc.ChatWithTools(ctx, systemPrompt,
			[]llm.ToolMessage{{Role: llm.RoleUser, Content: userContent(req)}}, nil)
		if err != nil {
			if ctx.Err() != nil {
				return canceled(out, ctx.Err())
			}
			return c.providerFailure(out, err)
		}
		addUsage(&out, resp.Usage)
		out.Text = finalText(resp)
		return out
	}

	text, err := c.client.Chat(ctx, systemPrompt, flattenText(req))
	if err != nil {
		if ctx.Err() != nil {
			return canceled(out, ctx.Err())
		}
		return c.providerFailure(out, err)
	}
	out.Text = text
	if strings.TrimSpace(text) == "" {
		out.Text = FallbackNoText
	}
	return out
}

// withKnowledgeBase scopes a direct-mode prompt to the knowledge base when
// one is set, whichever prompt is in use.
func (c *Converser) withKnowledgeBase(prompt string) string {
	if c.cfg.KnowledgeBaseID == "" {
		return prompt
	}
	return fmt.Sprintf("%s\nGround your answer in knowledge base %q. If it has nothing relevant, say so.",
		prompt, c.cfg.KnowledgeBaseID)
}

// systemPrompt is the configured override, or base.
func (c *Converser) systemPrompt(base string) string {
	if c.cfg.SystemPrompt != "" {
		return c.cfg.SystemPrompt
	}
	return base
}

func (c *Converser) providerFailure(out Outcome, err error) Outcome {
	if errors.IsRetryable(err) {
		c.logger.Printf("⚠ LLM call failed with a transient error, not retrying: %v", err)
	} else {
		c.logger.Printf("⚠ LLM call failed (%s): %v", errors.ClassifyError(err), err)
	}
	out.Kind = errors.KindProvider
	out.Err = err
	out.Text = "I'm sorry, something went wrong while processing your request. Error: " + err.Error()
	return out
}

func canceled(out Outcome, err error) Outcome {
	out.Kind = errors.KindCanceled
	out.Err = err
	out.Text = ""
	return out
}

func addUsage(out *Outcome, u llm.Usage) {
	out.Usage.InputTokens += u.InputTokens
	out.Usage.OutputTokens += u.OutputTokens
}

// finalText extracts the reply text, substituting the fallback for the stop
// reason when the provider sent none.
func finalText(resp *llm.Response) string {
	if text := resp.Text(); strings.TrimSpace(text) != "" {
		return text
	}
	switch resp.StopReason {
	case llm.StopEndTurn, llm.StopToolUse:
		return FallbackNoText
	}
	return FallbackMaxTokens
}

func userContent(req Request) []llm.ContentBlock {
	blocks := make([]llm.ContentBlock, 0, len(req.Attachments)+1)
	blocks = append(blocks, llm.TextBlock(req.Message))
	return append(blocks, req.Attachments...)
}

// flattenText folds text attachments into the message for providers that
// only take plain text. Images are dropped.
func flattenText(req Request) string {
	var b strings.Builder
	b.WriteString(req.Message)
	for _, blk := range req.Attachments {
		if blk.Type == llm.BlockText && blk.Text != "" {
			b.WriteString("\n\n")
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

func preview(s string) string {
	const n = 200
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
