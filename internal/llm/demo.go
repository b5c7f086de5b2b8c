package llm

import (
	"context"
	"fmt"
)

// DemoClient answers without contacting any provider. It is used when no
// credentials are configured so the API stays usable end to end.
type DemoClient struct{}

func NewDemoClient() *DemoClient {
	return &DemoClient{}
}

// DemoReply is the canned answer for message.
func DemoReply(message string) string {
	return fmt.Sprintf("Hello! I received your message: '%s'. "+
		"I'm currently running in demo mode without a language model provider. "+
		"To enable full AI capabilities, configure a provider and API key in buzz.json or the .env file.", message)
}

func (c *DemoClient) Chat(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	return DemoReply(userMessage), nil
}

func (c *DemoClient) ChatWithHistory(ctx context.Context, systemPrompt string, messages []Message) (string, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return DemoReply(messages[i].Content), nil
		}
	}
	return DemoReply(""), nil
}
