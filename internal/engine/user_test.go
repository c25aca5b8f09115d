package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jacklau/affinity/internal/simcache"
	"github.com/jacklau/affinity/internal/similarity"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func sampleBundles() (ProfileBundle, ProfileBundle) {
	a := ProfileBundle{
		Identity: "alice",
		Clusters: []InterestCluster{
			{Description: "cats and quiet mornings", Keywords: []string{"cat", "morning", "tea", "jazz"}, Mood: "calm"},
		},
	}
	b := ProfileBundle{
		Identity: "bob",
		Clusters: []InterestCluster{
			{Description: "rainy days with a cat", Keywords: []string{"Cat", "morning ", "rain"}, Mood: "quiet"},
		},
	}
	return a, b
}

func TestScoreUsers_LayersWithoutEmbedder(t *testing.T) {
	e, _ := newTestEngine(nil)
	a, b := sampleBundles()

	score, err := e.ScoreUsers(context.Background(), a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// primary {cat,morning,tea} vs {cat,morning,rain} = 2/4
	// full {cat,morning,tea,jazz} vs {cat,morning,rain} = 2/5
	// moods {calm} vs {quiet} = 0
	want := 0.6*0.5 + 0.3*0.4
	if !approx(score, want) {
		t.Errorf("score = %v, want %v", score, want)
	}
}

func TestScoreUsers_LayersWithEmbedder(t *testing.T) {
	m := newMockEmbedder()
	m.add("cat morning tea", []float32{1, 0})
	m.add("cat morning rain", []float32{1, 0})
	e, _ := newTestEngine(m)
	a, b := sampleBundles()

	score, err := e.ScoreUsers(context.Background(), a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := 0.6*1 + 0.3*0.4
	if !approx(score, want) {
		t.Errorf("score = %v, want %v", score, want)
	}
	if m.calls() != 2 {
		t.Errorf("embed calls = %d, want 2", m.calls())
	}
}

func TestScoreUsers_EmptyBundle(t *testing.T) {
	m := newMockEmbedder()
	e, _ := newTestEngine(m)
	a, _ := sampleBundles()
	empty := ProfileBundle{Identity: "nobody"}

	for _, pair := range [][2]ProfileBundle{{empty, a}, {a, empty}} {
		score, err := e.ScoreUsers(context.Background(), pair[0], pair[1])
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if score != 0 {
			t.Errorf("score = %v, want 0", score)
		}
	}
	if m.calls() != 0 {
		t.Errorf("embed calls = %d, want 0", m.calls())
	}
}

func TestScoreUsers_EmptyBundlePairMode(t *testing.T) {
	m := newMockEmbedder()
	e, _ := newTestEngine(m, WithAggregation(AggregatePairs))
	a, _ := sampleBundles()

	score, err := e.ScoreUsers(context.Background(), a, ProfileBundle{Identity: "nobody"})
	if err != nil || score != 0 {
		t.Fatalf("got (%v, %v), want (0, nil)", score, err)
	}
	if m.calls() != 0 {
		t.Errorf("embed calls = %d, want 0", m.calls())
	}
}

func TestScoreUsers_Symmetric(t *testing.T) {
	a, b := sampleBundles()
	a.Clusters = append(a.Clusters, InterestCluster{Description: "retro games", Keywords: []string{"pixel art", "arcade"}, Mood: "nostalgic"})
	b.Clusters = append(b.Clusters, InterestCluster{Keywords: []string{"arcade"}, Mood: "retro"})

	for _, agg := range []Aggregation{AggregateLayers, AggregatePairs} {
		t.Run(string(agg), func(t *testing.T) {
			e1, _ := newTestEngine(newMockEmbedder(), WithAggregation(agg))
			e2, _ := newTestEngine(newMockEmbedder(), WithAggregation(agg))

			ab, err := e1.ScoreUsers(context.Background(), a, b)
			if err != nil {
				t.Fatalf("ScoreUsers(a, b): %v", err)
			}
			ba, err := e2.ScoreUsers(context.Background(), b, a)
			if err != nil {
				t.Fatalf("ScoreUsers(b, a): %v", err)
			}
			if ab != ba {
				t.Errorf("asymmetric: %v vs %v", ab, ba)
			}
			if ab < 0 || ab > 1 {
				t.Errorf("score %v out of [0,1]", ab)
			}
		})
	}
}

func TestScoreUsers_CacheHitIsDeterministic(t *testing.T) {
	m := newMockEmbedder()
	m.drift = true
	rec := newMockRecorder()
	e, _ := newTestEngine(m, WithRecorder(rec))
	a, b := sampleBundles()

	first, err := e.ScoreUsers(context.Background(), a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := m.calls()

	second, err := e.ScoreUsers(context.Background(), b, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Errorf("cache hit returned %v, first call %v", second, first)
	}
	if m.calls() != calls {
		t.Errorf("embed calls grew from %d to %d on cache hit", calls, m.calls())
	}
	if rec.hits != 1 || rec.misses != 1 {
		t.Errorf("cache lookups: %d hits, %d misses", rec.hits, rec.misses)
	}
}

func TestScoreUsers_RecomputesAfterTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	cache := simcache.NewMemory(simcache.WithClock(clock.Now), simcache.WithTTL(30*time.Minute))
	m := newMockEmbedder()
	e, _ := newTestEngine(m, WithCache(cache))
	a, b := sampleBundles()

	e.ScoreUsers(context.Background(), a, b)
	calls := m.calls()

	clock.Advance(10 * time.Minute)
	e.ScoreUsers(context.Background(), a, b)
	if m.calls() != calls {
		t.Fatalf("expected cache hit within TTL")
	}

	clock.Advance(25 * time.Minute)
	e.ScoreUsers(context.Background(), a, b)
	if m.calls() == calls {
		t.Error("expected recomputation after TTL")
	}

	entry, ok, _ := cache.Get(context.Background(), simcache.NewPairKey("alice", "bob"))
	if !ok || !entry.ComputedAt.Equal(clock.Now()) {
		t.Errorf("entry = %+v, want overwritten at %v", entry, clock.Now())
	}
}

func TestScoreUsers_InvalidBundle(t *testing.T) {
	e, _ := newTestEngine(nil)
	a, _ := sampleBundles()

	tests := []ProfileBundle{
		{Identity: ""},
		{Identity: "   ", Clusters: a.Clusters},
		{Identity: "x\x1fy"},
	}
	for _, bad := range tests {
		if _, err := e.ScoreUsers(context.Background(), a, bad); !errors.Is(err, ErrInvalidProfileBundle) {
			t.Errorf("ScoreUsers(a, %q) err = %v, want ErrInvalidProfileBundle", bad.Identity, err)
		}
		if _, err := e.ScoreUsers(context.Background(), bad, a); !errors.Is(err, ErrInvalidProfileBundle) {
			t.Errorf("ScoreUsers(%q, a) err = %v, want ErrInvalidProfileBundle", bad.Identity, err)
		}
	}
}

func TestScoreUsers_InvalidWeights(t *testing.T) {
	e, _ := newTestEngine(nil)
	a, b := sampleBundles()

	_, err := e.ScoreUsersWithWeights(context.Background(), a, b, similarity.Weights{})
	if !errors.Is(err, similarity.ErrInvalidWeights) {
		t.Errorf("err = %v, want ErrInvalidWeights", err)
	}
}

func TestScoreUsers_CancelledWritesNothing(t *testing.T) {
	cache := simcache.NewMemory()
	e, _ := newTestEngine(newMockEmbedder(), WithCache(cache))
	a, b := sampleBundles()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.ScoreUsers(ctx, a, b); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n, _ := cache.Len(context.Background()); n != 0 {
		t.Errorf("cache has %d entries, want 0", n)
	}
}

func TestScoreUsers_EmbedderAlwaysFails(t *testing.T) {
	m := newMockEmbedder()
	m.err = errors.New("unreachable")
	e, logs := newTestEngine(m)
	a, b := sampleBundles()

	score, err := e.ScoreUsers(context.Background(), a, b)
	if err != nil {
		t.Fatalf("expected fallback, got %v", err)
	}
	if !approx(score, 0.6*0.5+0.3*0.4) {
		t.Errorf("score = %v, want keyword fallback", score)
	}
	if !strings.Contains(logs.String(), "falling back") {
		t.Error("expected fallback to be logged")
	}
}

func TestScoreUsers_HighSimilarityReportedOnce(t *testing.T) {
	rec := newMockRecorder()
	e, logs := newTestEngine(nil, WithRecorder(rec))

	same := []InterestCluster{{Keywords: []string{"cat", "tea"}, Mood: "calm"}}
	a := ProfileBundle{Identity: " alice ", Clusters: same}
	b := ProfileBundle{Identity: "bob", Clusters: same}

	score, err := e.ScoreUsers(context.Background(), a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !approx(score, 1) {
		t.Fatalf("score = %v, want 1", score)
	}
	// Served from the cache, so not reported again.
	e.ScoreUsers(context.Background(), a, b)

	if rec.high[LevelUser] != 1 {
		t.Errorf("high user count = %d, want 1", rec.high[LevelUser])
	}
	if strings.Count(logs.String(), "high user similarity") != 1 {
		t.Errorf("expected one high user similarity log, got:\n%s", logs.String())
	}
}

func TestScoreUsers_PairMode(t *testing.T) {
	e, _ := newTestEngine(nil, WithAggregation(AggregatePairs))
	a := ProfileBundle{Identity: "a", Clusters: []InterestCluster{
		{Keywords: []string{"x"}},
		{Keywords: []string{"y"}},
	}}
	b := ProfileBundle{Identity: "b", Clusters: []InterestCluster{
		{Keywords: []string{"x"}},
	}}

	score, err := e.ScoreUsers(context.Background(), a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// rows: best 0.3, 0 -> 0.15; columns: 0.3 -> avg 0.225
	if !approx(score, 0.225) {
		t.Errorf("score = %v, want 0.225", score)
	}
}

func TestScoreUsers_PairModeEmbedsEachDescriptionOnce(t *testing.T) {
	m := newMockEmbedder()
	e, _ := newTestEngine(m, WithAggregation(AggregatePairs), WithParallelism(2))
	a := ProfileBundle{Identity: "a", Clusters: []InterestCluster{
		{Description: "film noir", Keywords: []string{"film"}},
		{Description: "film noir", Keywords: []string{"noir"}},
		{Keywords: []string{"popcorn"}},
	}}
	b := ProfileBundle{Identity: "b", Clusters: []InterestCluster{
		{Description: "indie films", Keywords: []string{"film"}},
		{Description: "film noir", Keywords: []string{"noir"}},
	}}

	if _, err := e.ScoreUsers(context.Background(), a, b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.calls() != 2 {
		t.Errorf("embed calls = %d, want 2 distinct descriptions", m.calls())
	}
}

func TestScoreUsers_PairModeWeights(t *testing.T) {
	e, _ := newTestEngine(nil, WithAggregation(AggregatePairs))
	a := ProfileBundle{Identity: "a", Clusters: []InterestCluster{{Keywords: []string{"x"}, Mood: "fun"}}}
	b := ProfileBundle{Identity: "b", Clusters: []InterestCluster{{Keywords: []string{"y"}, Mood: "fun"}}}

	score, err := e.ScoreUsersWithWeights(context.Background(), a, b, similarity.Weights{Mood: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !approx(score, 1) {
		t.Errorf("score = %v, want 1 with mood-only weights", score)
	}
}

func TestScoreUsers_Concurrent(t *testing.T) {
	m := newMockEmbedder()
	e, _ := newTestEngine(m)
	_, b := sampleBundles()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := ProfileBundle{
				Identity: fmt.Sprintf("user-%d", i%10),
				Clusters: []InterestCluster{{Keywords: []string{"cat", fmt.Sprintf("k%d", i%10)}}},
			}
			s, err := e.ScoreUsers(context.Background(), a, b)
			if err != nil {
				errs <- err
				return
			}
			if s < 0 || s > 1 {
				errs <- fmt.Errorf("score %v out of range", s)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	if n, _ := e.Cache().Len(context.Background()); n != 10 {
		t.Errorf("cache has %d entries, want 10", n)
	}
}
