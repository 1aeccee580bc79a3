package llm

import (
	"context"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
)

type anthropicCompleter struct {
	client *anthropic.Client
}

func newAnthropicCompleter(apiKey, baseURL string) *anthropicCompleter {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}
	return &anthropicCompleter{client: anthropic.NewClient(apiKey, opts...)}
}

func (a *anthropicCompleter) Complete(ctx context.Context, c *Completion) (*CompletionResult, error) {
	messages := make([]anthropic.Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		role := anthropic.RoleUser
		if m.Role == RoleAssistant {
			role = anthropic.RoleAssistant
		}
		text := m.Content
		messages = append(messages, anthropic.Message{
			Role:    role,
			Content: []anthropic.MessageContent{{Type: "text", Text: &text}},
		})
	}

	// Anthropic has no JSON schema response mode; the schema goes in the
	// system prompt and the answer is extracted from text.
	system := c.System
	if c.Schema != nil {
		if system != "" {
			system += "\n\n"
		}
		system += schemaInstruction(c)
	}

	req := anthropic.MessagesRequest{
		Model:     anthropic.Model(c.Model),
		System:    system,
		Messages:  messages,
		MaxTokens: c.MaxTokens,
	}
	if c.Temperature != nil {
		t := float32(*c.Temperature)
		req.Temperature = &t
	}

	resp, err := a.client.CreateMessages(ctx, req)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			text.WriteString(*block.Text)
		}
	}

	return &CompletionResult{
		Text:         text.String(),
		FinishReason: string(resp.StopReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}
