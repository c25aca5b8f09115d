package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIEmbedder implements Embedder with the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder creates an embedder. Unknown model names fall back to
// text-embedding-3-small.
func NewOpenAIEmbedder(apiKey, model string) *OpenAIEmbedder {
	return newOpenAIEmbedderWithClient(openai.NewClient(apiKey), model)
}

func newOpenAIEmbedderWithClient(client *openai.Client, model string) *OpenAIEmbedder {
	return &OpenAIEmbedder{client: client, model: embeddingModel(model)}
}

func embeddingModel(name string) openai.EmbeddingModel {
	switch openai.EmbeddingModel(name) {
	case openai.LargeEmbedding3:
		return openai.LargeEmbedding3
	case openai.AdaEmbeddingV2:
		return openai.AdaEmbeddingV2
	default:
		return openai.SmallEmbedding3
	}
}

// Model returns the embedding model name.
func (o *OpenAIEmbedder) Model() string {
	return string(o.model)
}

// Embed returns the embedding of text.
func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: o.model,
	})
	if err != nil {
		return nil, openAIError(ctx, "openai embedding", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: no embedding in openai response", ErrInvalidResponse)
	}
	return resp.Data[0].Embedding, nil
}

// OpenAICompleter implements Completer with the OpenAI chat API.
type OpenAICompleter struct {
	client *openai.Client
	model  string
}

// NewOpenAICompleter creates a completer, defaulting to gpt-4o-mini.
func NewOpenAICompleter(apiKey, model string) *OpenAICompleter {
	return newOpenAICompleterWithClient(openai.NewClient(apiKey), model)
}

func newOpenAICompleterWithClient(client *openai.Client, model string) *OpenAICompleter {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAICompleter{client: client, model: model}
}

// Complete sends prompt as the user message and asks for a JSON object.
func (o *OpenAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: completionSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:      completionMaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return "", openAIError(ctx, "openai completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrInvalidResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

func openAIError(ctx context.Context, op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if sentinel := statusError(apiErr.HTTPStatusCode); sentinel != nil {
			return fmt.Errorf("%w: %s", sentinel, err)
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if sentinel := statusError(reqErr.HTTPStatusCode); sentinel != nil {
			return fmt.Errorf("%w: %s", sentinel, err)
		}
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s", ErrTimeout, ctx.Err())
	}
	return fmt.Errorf("%s: %w", op, err)
}
