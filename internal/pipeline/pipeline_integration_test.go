package pipeline

import (
	"context"
	"testing"

	"github.com/jacklau/affinity/internal/engine"
	"github.com/jacklau/affinity/internal/simcache"
)

func TestRank_WithKeywordOnlyEngine(t *testing.T) {
	db := setupStore(t)
	bundles := []engine.ProfileBundle{
		{Identity: "alice", Clusters: []engine.InterestCluster{
			{Keywords: []string{"jazz", "vinyl", "coffee"}, Mood: "calm"},
		}},
		{Identity: "bob", Clusters: []engine.InterestCluster{
			{Keywords: []string{"jazz", "vinyl", "coffee"}, Mood: "calm"},
		}},
		{Identity: "carol", Clusters: []engine.InterestCluster{
			{Keywords: []string{"football", "gym"}, Mood: "energetic"},
		}},
	}
	for _, b := range bundles {
		if err := db.UpsertProfile(b); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	eng := engine.NewEngine(nil,
		engine.WithCache(simcache.NewMemory()),
		engine.WithLogger(discardLogger()),
	)
	notifier := &mockNotifier{}
	p := New(Deps{
		Scorer:      eng,
		Store:       db,
		Notifier:    notifier,
		Threshold:   eng.Threshold(),
		Aggregation: string(eng.Aggregation()),
		Logger:      discardLogger(),
	})

	ranked, err := p.RankAndRecord(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 results, got %d", len(ranked))
	}
	if ranked[0].Identity != "bob" || ranked[0].Score < 0.99 {
		t.Errorf("expected bob first with ~1, got %+v", ranked[0])
	}
	if ranked[1].Identity != "carol" || ranked[1].Score != 0 {
		t.Errorf("expected carol last with 0, got %+v", ranked[1])
	}
	if notifier.calls() != 1 {
		t.Errorf("expected one high-match notification, got %d", notifier.calls())
	}

	// Ranking the other side is served from the pair cache.
	again, err := p.Rank(context.Background(), "bob")
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if again[0].Identity != "alice" || again[0].Score != ranked[0].Score {
		t.Errorf("expected symmetric cached score, got %+v", again[0])
	}
}
