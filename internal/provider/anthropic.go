package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicCompleter implements Completer with the Anthropic messages API.
type AnthropicCompleter struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicCompleter creates a completer with the default model when
// model is empty.
func NewAnthropicCompleter(apiKey, model string, opts ...option.RequestOption) *AnthropicCompleter {
	if model == "" {
		model = defaultAnthropicModel
	}
	client := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &AnthropicCompleter{client: &client, model: model}
}

// Complete joins the text blocks of the reply. Sampling is deterministic so
// repeated tagging of the same cluster gives the same label.
func (a *AnthropicCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   completionMaxTokens,
		Temperature: anthropic.Float(0),
		System:      []anthropic.TextBlockParam{{Text: completionSystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", a.classify(ctx, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type != "text" {
			continue
		}
		text.WriteString(block.Text)
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("%w: anthropic reply has no text (stop reason %q)", ErrInvalidResponse, msg.StopReason)
	}
	return text.String(), nil
}

func (a *AnthropicCompleter) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s", ErrTimeout, ctx.Err())
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if sentinel := statusError(apiErr.StatusCode); sentinel != nil {
			return fmt.Errorf("%w: %s %s", sentinel, a.model, err)
		}
	}
	return fmt.Errorf("anthropic completion (%s): %w", a.model, err)
}
