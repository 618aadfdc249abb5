package moderation

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Verdict is a classifier's judgement of one prompt.
type Verdict struct {
	Allowed bool
	Reason  string
}

// Classifier labels a prompt against the image generation content policy.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (Verdict, error)
}

const classifierSystem = `You review prompts submitted to an image generation service.
Answer with exactly one line: "ALLOW" if the prompt is acceptable, or
"BLOCK: <short reason>" if it requests sexual content involving minors,
non-consensual sexual content, graphic violence or gore, identity documents,
or hate imagery. Stylized or fictional violence in obvious artistic context
is acceptable.`

// AnthropicClassifier asks a small Claude model for an ALLOW/BLOCK label.
type AnthropicClassifier struct {
	client anthropic.Client
	model  string
}

func NewAnthropicClassifier(apiKey, model string) *AnthropicClassifier {
	return &AnthropicClassifier{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (c *AnthropicClassifier) Classify(ctx context.Context, prompt string) (Verdict, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 64,
		System: []anthropic.TextBlockParam{
			{Text: classifierSystem},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("anthropic classify: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return parseVerdict(text)
}

func parseVerdict(text string) (Verdict, error) {
	trimmed := strings.TrimSpace(text)
	upper := strings.ToUpper(trimmed)

	switch {
	case strings.HasPrefix(upper, "ALLOW"):
		return Verdict{Allowed: true}, nil
	case strings.HasPrefix(upper, "BLOCK"):
		reason := strings.TrimSpace(strings.TrimPrefix(trimmed[5:], ":"))
		if reason == "" {
			reason = "content policy violation"
		}
		return Verdict{Allowed: false, Reason: reason}, nil
	default:
		return Verdict{}, fmt.Errorf("unparseable classifier verdict %q", trimmed)
	}
}
