package notify

import (
	"context"
	"fmt"
	"time"
)

// SlackNotifier sends match notifications to a Slack incoming webhook.
type SlackNotifier struct {
	webhook
}

// NewSlackNotifier creates a SlackNotifier with the given webhook URL.
func NewSlackNotifier(webhookURL string, opts ...Option) *SlackNotifier {
	return &SlackNotifier{webhook: newWebhook("slack", webhookURL, 10*time.Second, opts)}
}

type (
	slackText struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	slackBlock struct {
		Type string     `json:"type"`
		Text *slackText `json:"text,omitempty"`
	}
	slackPayload struct {
		Text   string       `json:"text"`
		Blocks []slackBlock `json:"blocks"`
	}
)

func slackHeader(text string) slackBlock {
	return slackBlock{Type: "header", Text: &slackText{Type: "plain_text", Text: text}}
}

func slackSection(format string, args ...any) slackBlock {
	return slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf(format, args...)}}
}

// BuildSlackPayload renders m as Block Kit. The top-level text is the
// fallback shown in push notifications.
func BuildSlackPayload(m Match) slackPayload {
	p := slackPayload{
		Text: fmt.Sprintf("%s and %s are %s alike", m.Identity, m.Other, FormatScore(m.Score)),
		Blocks: []slackBlock{
			slackHeader("High Interest Similarity"),
			slackSection("*%s* and *%s*", m.Identity, m.Other),
			slackSection("*Score:* %s (%s)", FormatScore(m.Score), Strength(m.Score)),
		},
	}
	if len(m.SharedKeywords) > 0 {
		p.Blocks = append(p.Blocks, slackSection("*Shared interests:* %s", FormatKeywords(m.SharedKeywords)))
	}
	return p
}

// Notify posts the match, retrying per the configured policy.
func (s *SlackNotifier) Notify(ctx context.Context, m Match) error {
	return s.send(ctx, BuildSlackPayload(m))
}

// Name returns "slack".
func (s *SlackNotifier) Name() string { return s.name }
