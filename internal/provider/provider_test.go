package provider

import (
	"errors"
	"net/http"
	"testing"
)

func TestNewEmbedder(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantNil bool
		wantErr bool
	}{
		{"none configured", Config{}, true, false},
		{"openai", Config{Type: "openai", APIKey: "k"}, false, false},
		{"openai without key", Config{Type: "openai"}, true, true},
		{"ollama defaults", Config{Type: "Ollama"}, false, false},
		{"unknown", Config{Type: "word2vec"}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEmbedder(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if (e == nil) != tt.wantNil {
				t.Errorf("embedder nil = %v, want %v", e == nil, tt.wantNil)
			}
		})
	}
}

func TestNewEmbedder_OllamaDefaults(t *testing.T) {
	e, err := NewEmbedder(Config{Type: "ollama"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	o := e.(*OllamaEmbedder)
	if o.url != defaultOllamaURL || o.model != defaultOllamaEmbedModel {
		t.Errorf("got url=%q model=%q", o.url, o.model)
	}
	if ModelName(e) != defaultOllamaEmbedModel {
		t.Errorf("ModelName = %q", ModelName(e))
	}
}

func TestNewCompleter(t *testing.T) {
	tests := []struct {
		cfg     Config
		wantErr bool
	}{
		{Config{}, false},
		{Config{Type: "openai", APIKey: "k"}, false},
		{Config{Type: "anthropic", APIKey: "k"}, false},
		{Config{Type: "anthropic"}, true},
		{Config{Type: "ollama"}, false},
		{Config{Type: "gpt2"}, true},
	}

	for _, tt := range tests {
		_, err := NewCompleter(tt.cfg)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewCompleter(%+v) err = %v, wantErr %v", tt.cfg, err, tt.wantErr)
		}
	}
}

func TestNewCompleter_Models(t *testing.T) {
	c, _ := NewCompleter(Config{Type: "anthropic", APIKey: "k"})
	if got := c.(*AnthropicCompleter).model; got != defaultAnthropicModel {
		t.Errorf("anthropic model = %q", got)
	}
	c, _ = NewCompleter(Config{Type: "openai", APIKey: "k", Model: "gpt-4"})
	if got := c.(*OpenAICompleter).model; got != "gpt-4" {
		t.Errorf("openai model = %q", got)
	}
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusTooManyRequests, ErrRateLimit},
		{http.StatusRequestTimeout, ErrTimeout},
		{http.StatusGatewayTimeout, ErrTimeout},
		{http.StatusInternalServerError, nil},
		{http.StatusOK, nil},
	}
	for _, tt := range tests {
		if got := statusError(tt.code); got != tt.want {
			t.Errorf("statusError(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(ErrRateLimit) || !IsRetryable(ErrTimeout) {
		t.Error("expected rate limit and timeout to be retryable")
	}
	if IsRetryable(ErrInvalidResponse) || IsRetryable(errors.New("boom")) {
		t.Error("expected other errors not to be retryable")
	}
}
