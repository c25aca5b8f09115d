// Package provider adapts embedding and completion backends to small
// interfaces used by the similarity engine and the mood tagger.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for provider operations.
var (
	ErrRateLimit       = errors.New("rate limit exceeded")
	ErrTimeout         = errors.New("request timed out")
	ErrInvalidResponse = errors.New("invalid response from provider")
	ErrCircuitOpen     = errors.New("provider circuit open")
	ErrEmptyText       = errors.New("cannot embed empty text")
)

// completionSystemPrompt is sent with every completion. Callers parse the
// reply as JSON.
const completionSystemPrompt = "You label interest profiles. Reply with a single JSON object and nothing else."

// completionMaxTokens bounds completion replies; a mood label with a short
// reason fits well within it.
const completionMaxTokens = 256

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer generates text completions from a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config selects and configures a provider backend.
type Config struct {
	Type   string
	Model  string
	APIKey string
	URL    string
}

// NewEmbedder builds the embedder named by cfg.Type. An empty type returns a
// nil Embedder and no error: the engine then scores without descriptions.
func NewEmbedder(cfg Config) (Embedder, error) {
	switch strings.ToLower(cfg.Type) {
	case "":
		return nil, nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai embedder requires an api key")
		}
		return NewOpenAIEmbedder(cfg.APIKey, cfg.Model), nil
	case "ollama":
		url := cfg.URL
		if url == "" {
			url = defaultOllamaURL
		}
		model := cfg.Model
		if model == "" {
			model = defaultOllamaEmbedModel
		}
		return NewOllamaEmbedder(url, model), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Type)
	}
}

// NewCompleter builds the completer named by cfg.Type. An empty type returns
// a nil Completer and no error.
func NewCompleter(cfg Config) (Completer, error) {
	switch strings.ToLower(cfg.Type) {
	case "":
		return nil, nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai completer requires an api key")
		}
		return NewOpenAICompleter(cfg.APIKey, cfg.Model), nil
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic completer requires an api key")
		}
		return NewAnthropicCompleter(cfg.APIKey, cfg.Model), nil
	case "ollama":
		return NewOllamaCompleter(cfg.URL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Type)
	}
}

// ModelName returns the model an embedder was configured with, or "" when
// the embedder does not report one.
func ModelName(e Embedder) string {
	if m, ok := e.(interface{ Model() string }); ok {
		return m.Model()
	}
	return ""
}

// statusError maps an HTTP status to a sentinel, or nil for codes that need
// no special handling.
func statusError(code int) error {
	switch code {
	case http.StatusTooManyRequests:
		return ErrRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrTimeout
	}
	return nil
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTimeout)
}
