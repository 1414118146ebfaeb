package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"leadflow-platform/internal/conversation"
	"leadflow-platform/internal/lead"
)

const defaultComposeTimeout = 15 * time.Second

// ChatCompleter is the slice of the OpenAI client the generator needs.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIGenerator composes outbound messages with a chat model, seeded by
// the template's instruction and the conversation so far. Failures surface
// to the caller; the scheduler decides whether to retry.
type OpenAIGenerator struct {
	Client ChatCompleter
	Model  string

	// Prompts maps a template ID to the system instruction for that touch.
	Prompts map[string]string

	Timeout time.Duration
	Log     *slog.Logger
}

func NewOpenAIGenerator(apiKey, model string) *OpenAIGenerator {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIGenerator{
		Client:  openai.NewClient(apiKey),
		Model:   model,
		Prompts: make(map[string]string),
		Timeout: defaultComposeTimeout,
	}
}

func (g *OpenAIGenerator) Compose(ctx context.Context, templateID string, l lead.Lead, conv conversation.Conversation) (string, error) {
	prompt, ok := g.Prompts[templateID]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTemplate, templateID)
	}

	timeout := g.Timeout
	if timeout <= 0 {
		timeout = defaultComposeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msgs := make([]openai.ChatCompletionMessage, 0, len(conv.Messages)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: prompt,
	})
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: fmt.Sprintf("The lead's name is %s.", l.Name),
	})
	for _, m := range conv.Messages {
		role := openai.ChatMessageRoleAssistant
		if m.Role == conversation.RoleLead {
			role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := g.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.Model,
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("agent: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("agent: chat completion returned no choices")
	}

	out := resp.Choices[0].Message.Content
	if g.Log != nil {
		g.Log.Debug("composed reply", "template_id", templateID, "lead_id", l.ID, "chars", len(out))
	}
	return out, nil
}
