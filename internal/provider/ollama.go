package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOllamaModel      = "llama3.1:8b"
	defaultOllamaEmbedModel = "nomic-embed-text"
	defaultOllamaURL        = "http://localhost:11434"
)

// ollamaClient posts JSON to a local Ollama server.
type ollamaClient struct {
	url    string
	model  string
	client *http.Client
}

func newOllamaClient(url, model string) ollamaClient {
	return ollamaClient{
		url:    strings.TrimRight(url, "/"),
		model:  model,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// post sends body to path and decodes a 200 reply into out.
func (c ollamaClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("ollama request: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if sentinel := statusError(resp.StatusCode); sentinel != nil {
		return fmt.Errorf("%w: ollama returned %d", sentinel, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding ollama response: %v", ErrInvalidResponse, err)
	}
	return nil
}

// OllamaEmbedder implements Embedder with Ollama's embeddings endpoint.
type OllamaEmbedder struct {
	ollamaClient
}

// NewOllamaEmbedder creates an embedder for a model such as
// "nomic-embed-text" (768 dims) or "mxbai-embed-large" (1024 dims).
func NewOllamaEmbedder(url, model string) *OllamaEmbedder {
	return &OllamaEmbedder{newOllamaClient(url, model)}
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Model returns the embedding model name.
func (e *OllamaEmbedder) Model() string {
	return e.model
}

// Embed returns the embedding of text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	var result ollamaEmbeddingResponse
	req := ollamaEmbeddingRequest{Model: e.model, Prompt: text}
	if err := e.post(ctx, "/api/embeddings", req, &result); err != nil {
		return nil, err
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned from ollama", ErrInvalidResponse)
	}

	vec := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// OllamaCompleter implements Completer with Ollama's generate endpoint.
type OllamaCompleter struct {
	ollamaClient
}

// NewOllamaCompleter creates a completer, defaulting to the local server and
// llama3.1:8b.
func NewOllamaCompleter(url, model string) *OllamaCompleter {
	if url == "" {
		url = defaultOllamaURL
	}
	if model == "" {
		model = defaultOllamaModel
	}
	return &OllamaCompleter{newOllamaClient(url, model)}
}

type ollamaCompletionRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaCompletionResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Complete asks for a non-streamed JSON-formatted completion.
func (o *OllamaCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	var result ollamaCompletionResponse
	req := ollamaCompletionRequest{
		Model:   o.model,
		System:  completionSystemPrompt,
		Prompt:  prompt,
		Format:  "json",
		Options: map[string]any{"temperature": 0, "num_predict": completionMaxTokens},
	}
	if err := o.post(ctx, "/api/generate", req, &result); err != nil {
		return "", err
	}
	if result.Error != "" {
		return "", fmt.Errorf("ollama error: %s", result.Error)
	}
	return result.Response, nil
}

var (
	_ Embedder  = (*OllamaEmbedder)(nil)
	_ Completer = (*OllamaCompleter)(nil)
)
