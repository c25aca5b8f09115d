// Package moodtag asks an LLM to label clusters that arrive without a mood.
//
// The tagger only ever proposes labels known to the mood affinity table, so
// a tagged cluster always participates in mood scoring.
package moodtag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/jacklau/affinity/internal/engine"
	"github.com/jacklau/affinity/internal/provider"
	"github.com/jacklau/affinity/internal/similarity"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultMinConfidence = 0.5
)

// Result is the outcome of tagging one cluster. Mood is empty when the
// model's answer was unusable, unknown or not confident enough.
type Result struct {
	Mood       string
	Confidence float64
	Reasoning  string
}

// Tagger labels clusters with a mood via an LLM completer.
type Tagger struct {
	completer     provider.Completer
	moods         *similarity.MoodAffinity
	timeout       time.Duration
	minConfidence float64
	logger        *slog.Logger
}

// Option configures a Tagger.
type Option func(*Tagger)

// WithTimeout bounds each cluster's completions, retry included.
func WithTimeout(d time.Duration) Option {
	return func(t *Tagger) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithMoodAffinity sets the table whose groups are offered and whose labels
// are accepted.
func WithMoodAffinity(m *similarity.MoodAffinity) Option {
	return func(t *Tagger) {
		if m != nil {
			t.moods = m
		}
	}
}

// WithMinConfidence drops answers below c.
func WithMinConfidence(c float64) Option {
	return func(t *Tagger) { t.minConfidence = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tagger) {
		if l != nil {
			t.logger = l
		}
	}
}

// New creates a Tagger.
func New(completer provider.Completer, opts ...Option) *Tagger {
	t := &Tagger{
		completer:     completer,
		moods:         similarity.DefaultMoodAffinity(),
		timeout:       defaultTimeout,
		minConfidence: defaultMinConfidence,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type llmResponse struct {
	Mood       string  `json:"mood"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// codeFenceRe matches markdown code fences around JSON.
var codeFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*\n?(.*?)\\s*```")

func parseResponse(raw string) (*llmResponse, error) {
	cleaned := strings.TrimSpace(raw)
	if matches := codeFenceRe.FindStringSubmatch(cleaned); len(matches) > 1 {
		cleaned = strings.TrimSpace(matches[1])
	}

	var resp llmResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, fmt.Errorf("%w: %s", provider.ErrInvalidResponse, err)
	}
	resp.Confidence = similarity.Clamp01(resp.Confidence)
	return &resp, nil
}

// Tag proposes a mood for c. Errors are returned only when the completer
// itself fails; a malformed or unknown answer yields an empty Result.
func (t *Tagger) Tag(ctx context.Context, c engine.InterestCluster) (Result, error) {
	prompt, err := BuildPrompt(t.moods.Groups(), c)
	if err != nil {
		return Result{}, fmt.Errorf("building prompt: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	raw, err := t.completer.Complete(ctx, prompt)
	if err != nil {
		return Result{}, fmt.Errorf("completing prompt: %w", err)
	}

	resp, err := parseResponse(raw)
	if err != nil {
		raw, retryErr := t.completer.Complete(ctx, prompt+retryPromptSuffix)
		if retryErr != nil {
			return Result{Reasoning: "no valid response from model"}, nil
		}
		if resp, err = parseResponse(raw); err != nil {
			return Result{Reasoning: "unparseable response after retry"}, nil
		}
	}

	mood := similarity.NormalizeKeyword(resp.Mood)
	if len(t.moods.Group(mood)) == 0 {
		t.logger.Debug("rejected unknown mood", "mood", resp.Mood)
		return Result{Confidence: resp.Confidence, Reasoning: resp.Reasoning}, nil
	}
	if resp.Confidence < t.minConfidence {
		return Result{Confidence: resp.Confidence, Reasoning: resp.Reasoning}, nil
	}
	return Result{Mood: mood, Confidence: resp.Confidence, Reasoning: resp.Reasoning}, nil
}

// TagBundle returns a copy of b in which every cluster without a mood has
// been tagged where possible, and the number of clusters tagged. b itself is
// not modified. Completer failures are logged and the cluster left untagged,
// except for context errors which abort.
func (t *Tagger) TagBundle(ctx context.Context, b engine.ProfileBundle) (engine.ProfileBundle, int, error) {
	out := engine.ProfileBundle{
		Identity: b.Identity,
		Clusters: make([]engine.InterestCluster, len(b.Clusters)),
	}
	copy(out.Clusters, b.Clusters)

	tagged := 0
	for i, c := range out.Clusters {
		if strings.TrimSpace(c.Mood) != "" {
			continue
		}
		if !c.HasDescription() && len(c.Keywords) == 0 {
			continue
		}

		res, err := t.Tag(ctx, c)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return b, tagged, err
			}
			t.logger.Warn("mood tagging failed", "identity", b.Identity, "cluster", i, "error", err)
			continue
		}
		if res.Mood == "" {
			continue
		}
		out.Clusters[i].Mood = res.Mood
		tagged++
	}
	return out, tagged, nil
}
