// Package watcher polls the profile store and announces changed profiles.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jacklau/affinity/internal/engine"
	"github.com/jacklau/affinity/internal/pubsub"
	"github.com/jacklau/affinity/internal/store"
)

// watermarkOverlap is subtracted from the watermark on every query so that
// writes committed with a slightly older timestamp are not missed.
const watermarkOverlap = 2 * time.Second

// Source lists profiles changed after a point in time. *store.DB satisfies it.
type Source interface {
	ListProfilesUpdatedSince(t time.Time) ([]store.Profile, error)
}

type seenProfile struct {
	hash      string
	updatedAt time.Time
}

// Watcher publishes a ProfileUpdated event for each profile whose clusters
// changed since the last poll. Re-saving an identical bundle is not a change.
type Watcher struct {
	source    Source
	broker    *pubsub.Broker[string]
	watermark time.Time
	seen      map[string]seenProfile
	logger    *slog.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithSince sets the initial watermark. The zero time announces every
// stored profile on the first poll.
func WithSince(t time.Time) Option {
	return func(w *Watcher) { w.watermark = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a Watcher. Without WithSince only changes made after New
// returns are announced.
func New(source Source, broker *pubsub.Broker[string], opts ...Option) *Watcher {
	w := &Watcher{
		source:    source,
		broker:    broker,
		watermark: time.Now().UTC(),
		seen:      make(map[string]seenProfile),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls at the given interval until ctx is cancelled. Poll errors are
// logged and polling continues.
func (w *Watcher) Run(ctx context.Context, interval time.Duration) error {
	w.logger.Info("starting watch loop", "interval", interval)

	if _, err := w.Poll(ctx); err != nil {
		w.logger.Warn("initial poll failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher shutting down", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Poll(ctx); err != nil {
				w.logger.Warn("poll failed", "error", err)
			}
		}
	}
}

// Poll performs one cycle and returns the number of profiles announced.
// Poll is not safe for concurrent use.
func (w *Watcher) Poll(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	since := w.watermark
	if !since.IsZero() {
		since = since.Add(-watermarkOverlap)
	}
	profiles, err := w.source.ListProfilesUpdatedSince(since)
	if err != nil {
		return 0, fmt.Errorf("listing updated profiles: %w", err)
	}

	announced := 0
	for _, p := range profiles {
		if err := ctx.Err(); err != nil {
			return announced, err
		}

		hash, err := hashBundle(p.ProfileBundle)
		if err != nil {
			w.logger.Warn("skipping profile", "identity", p.Identity, "error", err)
			continue
		}
		prev, ok := w.seen[p.Identity]
		w.seen[p.Identity] = seenProfile{hash: hash, updatedAt: p.UpdatedAt}
		if p.UpdatedAt.After(w.watermark) {
			w.watermark = p.UpdatedAt
		}
		if ok && prev.hash == hash {
			continue
		}

		w.broker.Publish(pubsub.ProfileUpdated, p.Identity)
		announced++
	}

	w.prune()
	w.logger.Debug("poll complete", "announced", announced, "watermark", w.watermark)
	return announced, nil
}

// Watermark returns the newest update time seen so far.
func (w *Watcher) Watermark() time.Time {
	return w.watermark
}

// prune forgets profiles that can no longer fall inside the overlap window.
func (w *Watcher) prune() {
	cutoff := w.watermark.Add(-watermarkOverlap)
	for id, s := range w.seen {
		if s.updatedAt.Before(cutoff) {
			delete(w.seen, id)
		}
	}
}

// hashBundle returns the hex-encoded SHA-256 of the bundle's JSON form.
func hashBundle(b engine.ProfileBundle) (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:]), nil
}
