package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jacklau/affinity/internal/retry"
)

var defaultPolicy = retry.Policy{
	MaxAttempts: 2,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    2 * time.Second,
}

// Option configures a webhook notifier.
type Option func(*webhook)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(w *webhook) { w.client = c }
}

// WithRetry replaces the delivery retry policy.
func WithRetry(p retry.Policy) Option {
	return func(w *webhook) { w.policy = p }
}

// WithLogger sets the logger used for failed attempts.
func WithLogger(l *slog.Logger) Option {
	return func(w *webhook) {
		if l != nil {
			w.logger = l
		}
	}
}

// webhook posts JSON payloads to an incoming-webhook URL.
type webhook struct {
	name   string
	url    string
	client *http.Client
	policy retry.Policy
	logger *slog.Logger
}

func newWebhook(name, url string, timeout time.Duration, opts []Option) webhook {
	w := webhook{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: timeout},
		policy: defaultPolicy,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&w)
	}
	return w
}

func (w *webhook) send(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", w.name, err)
	}

	attempt := 0
	err = w.policy.Do(ctx, func() error {
		attempt++
		err := w.post(ctx, body)
		if err != nil {
			w.logger.Debug("webhook post failed", "notifier", w.name, "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("%s notify failed after %d attempts: %w", w.name, attempt, err)
	}
	return nil
}

func (w *webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s webhook returned %d: %s", w.name, resp.StatusCode, string(respBody))
	}
	return nil
}
