// Package notify delivers high-similarity matches to chat webhooks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Match is a pair of profiles that scored above the high-similarity threshold.
type Match struct {
	Identity       string
	Other          string
	Score          float64
	Aggregation    string
	SharedKeywords []string
	ComputedAt     time.Time
}

// Notifier sends match notifications.
type Notifier interface {
	Notify(ctx context.Context, m Match) error
	// Name identifies the channel, recorded as notified_via.
	Name() string
}

// MultiNotifier sends notifications to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewMultiNotifier creates a MultiNotifier from the given notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers, logger: slog.Default()}
}

// Name joins the names of the wrapped notifiers.
func (m *MultiNotifier) Name() string {
	names := make([]string, len(m.notifiers))
	for i, n := range m.notifiers {
		names[i] = n.Name()
	}
	return strings.Join(names, ",")
}

// Notify sends m to every notifier, continuing past failures. The returned
// error joins all failures.
func (m *MultiNotifier) Notify(ctx context.Context, match Match) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, match); err != nil {
			m.logger.Warn("notifier failed", "notifier", n.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// NewNotifier creates a Notifier for an explicit channel choice.
// Supported types: "slack", "discord", "both".
func NewNotifier(notifyType, slackURL, discordURL string, opts ...Option) (Notifier, error) {
	switch notifyType {
	case "slack":
		if slackURL == "" {
			return nil, fmt.Errorf("slack webhook URL is required for slack notifier")
		}
		return NewSlackNotifier(slackURL, opts...), nil
	case "discord":
		if discordURL == "" {
			return nil, fmt.Errorf("discord webhook URL is required for discord notifier")
		}
		return NewDiscordNotifier(discordURL, opts...), nil
	case "both":
		if slackURL == "" || discordURL == "" {
			return nil, fmt.Errorf("slack and discord webhook URLs are required for 'both' notifier")
		}
		return NewMultiNotifier(
			NewSlackNotifier(slackURL, opts...),
			NewDiscordNotifier(discordURL, opts...),
		), nil
	default:
		return nil, fmt.Errorf("unsupported notifier type: %q", notifyType)
	}
}

// FromWebhooks returns a notifier for whichever webhooks are set, or nil
// when neither is.
func FromWebhooks(slackURL, discordURL string, opts ...Option) Notifier {
	switch {
	case slackURL != "" && discordURL != "":
		n, _ := NewNotifier("both", slackURL, discordURL, opts...)
		return n
	case slackURL != "":
		return NewSlackNotifier(slackURL, opts...)
	case discordURL != "":
		return NewDiscordNotifier(discordURL, opts...)
	default:
		return nil
	}
}
