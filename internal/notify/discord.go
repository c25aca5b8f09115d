package notify

import (
	"context"
	"fmt"
	"time"
)

// Embed colours per strength band.
const (
	colorVeryStrong = 3066993  // green
	colorStrong     = 3447003  // blue
	colorModerate   = 16776960 // yellow
	colorWeak       = 9807270  // grey
)

// DiscordNotifier sends match notifications to a Discord webhook.
type DiscordNotifier struct {
	webhook
}

// NewDiscordNotifier creates a DiscordNotifier with the given webhook URL.
func NewDiscordNotifier(webhookURL string, opts ...Option) *DiscordNotifier {
	return &DiscordNotifier{webhook: newWebhook("discord", webhookURL, 30*time.Second, opts)}
}

type discordEmbed struct {
	Title     string         `json:"title"`
	Color     int            `json:"color"`
	Fields    []discordField `json:"fields"`
	Footer    *discordFooter `json:"footer,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

func strengthColor(score float64) int {
	switch Strength(score) {
	case "very strong":
		return colorVeryStrong
	case "strong":
		return colorStrong
	case "moderate":
		return colorModerate
	default:
		return colorWeak
	}
}

// BuildDiscordPayload creates the embed message for a match.
func BuildDiscordPayload(m Match) discordPayload {
	fields := []discordField{
		{Name: "Score", Value: fmt.Sprintf("%s (%s)", FormatScore(m.Score), Strength(m.Score)), Inline: true},
	}
	if m.Aggregation != "" {
		fields = append(fields, discordField{Name: "Aggregation", Value: m.Aggregation, Inline: true})
	}
	fields = append(fields, discordField{
		Name:  "Shared interests",
		Value: FormatKeywords(m.SharedKeywords),
	})

	embed := discordEmbed{
		Title:  fmt.Sprintf("%s / %s", m.Identity, m.Other),
		Color:  strengthColor(m.Score),
		Fields: fields,
		Footer: &discordFooter{Text: "affinity"},
	}
	if !m.ComputedAt.IsZero() {
		embed.Timestamp = m.ComputedAt.UTC().Format(time.RFC3339)
	}

	return discordPayload{Embeds: []discordEmbed{embed}}
}

// Notify posts the match, retrying per the configured policy.
func (d *DiscordNotifier) Notify(ctx context.Context, m Match) error {
	return d.send(ctx, BuildDiscordPayload(m))
}

// Name returns "discord".
func (d *DiscordNotifier) Name() string { return d.name }
