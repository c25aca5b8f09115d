package engine

import (
	"bytes"
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jacklau/affinity/internal/provider"
	"github.com/jacklau/affinity/internal/retry"
)

const tolerance = 1e-9

// mockEmbedder returns registered vectors, or a deterministic vector derived
// from the text.
type mockEmbedder struct {
	mu         sync.Mutex
	embeddings map[string][]float32
	callCount  int
	err        error
	// drift changes the answer on every call when set.
	drift bool
}

func newMockEmbedder() *mockEmbedder {
	return &mockEmbedder{embeddings: make(map[string][]float32)}
}

func (m *mockEmbedder) add(text string, vec []float32) {
	m.embeddings[text] = vec
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	if m.err != nil {
		return nil, m.err
	}
	if m.drift {
		return []float32{1, float32(m.callCount), 0.5}, nil
	}
	if vec, ok := m.embeddings[text]; ok {
		return vec, nil
	}
	h := fnv.New32a()
	h.Write([]byte(text))
	sum := h.Sum32()
	return []float32{float32(sum%97) + 1, float32(sum%89) + 1, float32(sum%83) + 1}, nil
}

func (m *mockEmbedder) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

type mockRecorder struct {
	mu        sync.Mutex
	scores    map[string]int
	high      map[string]int
	fallbacks int
	hits      int
	misses    int
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{scores: map[string]int{}, high: map[string]int{}}
}

func (r *mockRecorder) ObserveScore(level string, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores[level]++
}

func (r *mockRecorder) HighSimilarity(level string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.high[level]++
}

func (r *mockRecorder) EmbeddingFallback() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks++
}

func (r *mockRecorder) CacheLookup(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.hits++
	} else {
		r.misses++
	}
}

// syncBuffer lets concurrent slog writes land in one buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger(w *syncBuffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func newTestEngine(embedder *mockEmbedder, opts ...Option) (*Engine, *syncBuffer) {
	logs := &syncBuffer{}
	base := []Option{
		WithLogger(testLogger(logs)),
		WithEmbedRetry(retry.Policy{MaxAttempts: 1}),
	}
	if embedder == nil {
		return NewEngine(nil, append(base, opts...)...), logs
	}
	return NewEngine(embedder, append(base, opts...)...), logs
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < tolerance
}

func TestParseAggregation(t *testing.T) {
	tests := []struct {
		in      string
		want    Aggregation
		wantErr bool
	}{
		{"", AggregateLayers, false},
		{"layers", AggregateLayers, false},
		{"pairs", AggregatePairs, false},
		{"mean", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAggregation(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseAggregation(%q) = (%q, %v)", tt.in, got, err)
		}
	}
}

func TestNewEngine_Defaults(t *testing.T) {
	e := NewEngine(nil, WithPrimaryKeywords(-1), WithEmbedTimeout(0), WithParallelism(0), WithRecorder(nil))
	if e.primaryKeywords != defaultPrimaryKeywords {
		t.Errorf("primaryKeywords = %d", e.primaryKeywords)
	}
	if e.embedTimeout != defaultEmbedTimeout {
		t.Errorf("embedTimeout = %v", e.embedTimeout)
	}
	if e.parallelism != defaultParallelism {
		t.Errorf("parallelism = %d", e.parallelism)
	}
	if e.cache == nil || e.recorder == nil || e.logger == nil || e.moods == nil {
		t.Error("expected defaults for cache, recorder, logger and moods")
	}
	if e.aggregation != AggregateLayers {
		t.Errorf("aggregation = %q", e.aggregation)
	}
}

func TestEmbed_RetriesRateLimit(t *testing.T) {
	m := &flakyEmbedder{failures: 2, err: provider.ErrRateLimit}
	e := NewEngine(m,
		WithLogger(testLogger(&syncBuffer{})),
		WithEmbedRetry(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}),
	)

	vec, err := e.embed(context.Background(), "text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 || m.calls != 3 {
		t.Errorf("got %v after %d calls, want vector after 3", vec, m.calls)
	}
}

func TestEmbed_DoesNotRetryOtherErrors(t *testing.T) {
	m := &flakyEmbedder{failures: 1, err: errors.New("bad request")}
	e := NewEngine(m,
		WithLogger(testLogger(&syncBuffer{})),
		WithEmbedRetry(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}),
	)

	if _, err := e.embed(context.Background(), "text"); !errors.Is(err, errEmbeddingUnavailable) {
		t.Fatalf("err = %v, want errEmbeddingUnavailable", err)
	}
	if m.calls != 1 {
		t.Errorf("calls = %d, want 1", m.calls)
	}
}

type flakyEmbedder struct {
	failures int
	calls    int
	err      error
}

func (f *flakyEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return []float32{1, 2, 3}, nil
}

func TestEmbed_UnusableVectorIsUnavailable(t *testing.T) {
	m := newMockEmbedder()
	m.add("zeros", []float32{0, 0, 0})
	m.add("empty", []float32{})
	e, _ := newTestEngine(m)

	for _, text := range []string{"zeros", "empty"} {
		_, err := e.embed(context.Background(), text)
		if !errors.Is(err, errEmbeddingUnavailable) {
			t.Errorf("embed(%q) err = %v, want errEmbeddingUnavailable", text, err)
		}
	}
}

func TestEmbed_NoEmbedder(t *testing.T) {
	e, logs := newTestEngine(nil)
	_, err := e.embed(context.Background(), "text")
	if !errors.Is(err, errEmbeddingUnavailable) {
		t.Errorf("err = %v, want errEmbeddingUnavailable", err)
	}
	e.fallback(context.Background(), "description", err)
	if strings.Contains(logs.String(), "falling back") {
		t.Error("missing embedder should only log at debug level")
	}
}
