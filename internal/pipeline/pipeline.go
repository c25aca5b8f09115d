// Package pipeline ranks stored profiles against one another and reports
// high matches.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jacklau/affinity/internal/engine"
	"github.com/jacklau/affinity/internal/notify"
	"github.com/jacklau/affinity/internal/pubsub"
	"github.com/jacklau/affinity/internal/similarity"
	"github.com/jacklau/affinity/internal/store"
)

const (
	defaultTopN           = 10
	defaultWorkers        = 4
	defaultNotifyCooldown = 30 * time.Minute
)

// Scorer scores two bundles. *engine.Engine satisfies it.
type Scorer interface {
	ScoreUsers(ctx context.Context, a, b engine.ProfileBundle) (float64, error)
}

// Deps holds the dependencies for the Pipeline.
type Deps struct {
	Scorer   Scorer
	Store    store.Store
	Notifier notify.Notifier

	// Updates carries identities of changed profiles into Run.
	Updates *pubsub.Broker[string]
	// Matches receives a MatchFound event per high match.
	Matches *pubsub.Broker[notify.Match]

	Threshold   float64
	Aggregation string
	TopN        int
	Workers     int
	// NotifyCooldown suppresses a repeat notification for a pair notified
	// within this window.
	NotifyCooldown time.Duration
	Logger         *slog.Logger
}

// Ranked is one entry of a ranking.
type Ranked struct {
	Identity string  `json:"identity"`
	Score    float64 `json:"score"`
	High     bool    `json:"high"`
	LogID    int64   `json:"-"`
}

// Pipeline ranks a profile against every other stored profile, records the
// top results and notifies on high matches.
type Pipeline struct {
	deps Deps
}

// New creates a new Pipeline with the given dependencies.
func New(deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.TopN <= 0 {
		deps.TopN = defaultTopN
	}
	if deps.Workers <= 0 {
		deps.Workers = defaultWorkers
	}
	if deps.NotifyCooldown <= 0 {
		deps.NotifyCooldown = defaultNotifyCooldown
	}
	return &Pipeline{deps: deps}
}

// Run ranks every profile announced on the Updates broker until ctx is
// cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.deps.Updates == nil {
		return fmt.Errorf("pipeline has no update broker")
	}
	events := p.deps.Updates.Subscribe(ctx, pubsub.ProfileUpdated)
	p.deps.Logger.Info("pipeline started, listening for profile updates")

	for {
		select {
		case <-ctx.Done():
			p.deps.Logger.Info("pipeline shutting down", "reason", ctx.Err())
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				p.deps.Logger.Info("event channel closed")
				return nil
			}
			p.handleUpdate(ctx, evt.Payload)
		}
	}
}

func (p *Pipeline) handleUpdate(ctx context.Context, identity string) {
	logger := p.deps.Logger.With("identity", identity)
	start := time.Now()

	ranked, err := p.RankAndRecord(ctx, identity)
	if err != nil {
		logger.Error("ranking failed", "error", err, "duration", time.Since(start))
		return
	}

	high := 0
	for _, r := range ranked {
		if r.High {
			high++
		}
	}
	logger.Info("profile ranked", "ranked", len(ranked), "high", high, "duration", time.Since(start))
}

// Rank scores identity against every other stored profile and returns the
// top N in descending score order, ties broken by identity. Pairs whose
// score cannot be computed are logged and omitted. Nothing is stored or sent.
func (p *Pipeline) Rank(ctx context.Context, identity string) ([]Ranked, error) {
	_, _, ranked, err := p.rank(ctx, identity)
	return ranked, err
}

// RankAndRecord ranks like Rank, then logs every returned pair and reports
// high matches on the Matches broker and the notifier.
func (p *Pipeline) RankAndRecord(ctx context.Context, identity string) ([]Ranked, error) {
	target, others, ranked, err := p.rank(ctx, identity)
	if err != nil {
		return nil, err
	}
	for i := range ranked {
		p.record(ctx, target, others[ranked[i].Identity], &ranked[i])
	}
	return ranked, nil
}

func (p *Pipeline) rank(ctx context.Context, identity string) (engine.ProfileBundle, map[string]engine.ProfileBundle, []Ranked, error) {
	target, err := p.deps.Store.GetProfile(identity)
	if err != nil {
		return engine.ProfileBundle{}, nil, nil, fmt.Errorf("loading profile %q: %w", identity, err)
	}
	profiles, err := p.deps.Store.ListProfiles()
	if err != nil {
		return engine.ProfileBundle{}, nil, nil, fmt.Errorf("listing profiles: %w", err)
	}

	ranked, err := p.scoreAll(ctx, target.ProfileBundle, profiles)
	if err != nil {
		return engine.ProfileBundle{}, nil, nil, err
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Identity < ranked[j].Identity
	})
	if len(ranked) > p.deps.TopN {
		ranked = ranked[:p.deps.TopN]
	}

	others := make(map[string]engine.ProfileBundle, len(profiles))
	for _, prof := range profiles {
		others[prof.Identity] = prof.ProfileBundle
	}
	return target.ProfileBundle, others, ranked, nil
}

func (p *Pipeline) scoreAll(ctx context.Context, target engine.ProfileBundle, profiles []store.Profile) ([]Ranked, error) {
	var (
		mu     sync.Mutex
		ranked []Ranked
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.deps.Workers)
	for _, prof := range profiles {
		if prof.Identity == target.Identity {
			continue
		}
		other := prof.ProfileBundle
		g.Go(func() error {
			score, err := p.deps.Scorer.ScoreUsers(gctx, target, other)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				p.deps.Logger.Warn("similarity unknown, skipping pair",
					"identity", target.Identity, "other", other.Identity, "error", err)
				return nil
			}
			mu.Lock()
			ranked = append(ranked, Ranked{
				Identity: other.Identity,
				Score:    score,
				High:     score > p.deps.Threshold,
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ranked, nil
}

// record logs a ranked pair and, for high matches, publishes and notifies.
func (p *Pipeline) record(ctx context.Context, target, other engine.ProfileBundle, r *Ranked) {
	logger := p.deps.Logger.With("identity", target.Identity, "other", r.Identity)

	entry := &store.SimilarityLog{
		IdentityA:   target.Identity,
		IdentityB:   r.Identity,
		Score:       r.Score,
		Aggregation: p.deps.Aggregation,
	}
	if err := p.deps.Store.LogSimilarity(entry); err != nil {
		logger.Error("failed to log similarity", "error", err)
	}
	r.LogID = entry.ID

	if !r.High {
		return
	}

	match := notify.Match{
		Identity:       target.Identity,
		Other:          r.Identity,
		Score:          r.Score,
		Aggregation:    p.deps.Aggregation,
		SharedKeywords: SharedKeywords(target, other),
		ComputedAt:     time.Now(),
	}
	if p.deps.Matches != nil {
		p.deps.Matches.Publish(pubsub.MatchFound, match)
	}
	if p.deps.Notifier == nil {
		return
	}
	since := time.Now().Add(-p.deps.NotifyCooldown)
	if sent, err := p.deps.Store.NotifiedSince(target.Identity, r.Identity, since); err != nil {
		logger.Warn("checking previous notifications", "error", err)
	} else if sent {
		logger.Debug("pair notified recently, skipping", "cooldown", p.deps.NotifyCooldown)
		return
	}
	if err := p.deps.Notifier.Notify(ctx, match); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Warn("notification failed", "error", err)
		return
	}
	if entry.ID != 0 {
		channels := strings.Split(p.deps.Notifier.Name(), ",")
		if err := p.deps.Store.MarkNotified(entry.ID, channels); err != nil {
			logger.Error("failed to mark notified", "error", err)
		}
	}
}

// SharedKeywords returns the normalized keywords present in both bundles,
// sorted.
func SharedKeywords(a, b engine.ProfileBundle) []string {
	set := func(bundle engine.ProfileBundle) map[string]struct{} {
		var all []string
		for _, c := range bundle.Clusters {
			all = append(all, c.Keywords...)
		}
		return similarity.KeywordSet(all)
	}
	sa, sb := set(a), set(b)

	var shared []string
	for kw := range sa {
		if _, ok := sb[kw]; ok {
			shared = append(shared, kw)
		}
	}
	sort.Strings(shared)
	return shared
}
