package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"leadflow-platform/internal/conversation"
	"leadflow-platform/internal/lead"
)

// ReplyGenerator produces the outbound message body for a touch template.
// Implementations must be safe for concurrent use.
type ReplyGenerator interface {
	Compose(ctx context.Context, templateID string, l lead.Lead, conv conversation.Conversation) (string, error)
}

var ErrUnknownTemplate = errors.New("agent: unknown template")

// TemplateGenerator renders registered templates with simple placeholder
// substitution. Deterministic, so idempotent re-runs of a touch produce the
// same body.
type TemplateGenerator struct {
	templates map[string]string
}

func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{templates: make(map[string]string)}
}

// Register adds or replaces a template. Placeholders: {{name}}, {{email}},
// {{phone}}.
func (g *TemplateGenerator) Register(id, body string) {
	g.templates[id] = body
}

func (g *TemplateGenerator) Compose(ctx context.Context, templateID string, l lead.Lead, conv conversation.Conversation) (string, error) {
	body, ok := g.templates[templateID]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTemplate, templateID)
	}
	r := strings.NewReplacer(
		"{{name}}", l.Name,
		"{{email}}", l.Email,
		"{{phone}}", l.Phone,
	)
	return r.Replace(body), nil
}
