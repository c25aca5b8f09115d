// Package engine scores how alike two interest clusters, or two users'
// profile bundles, are.
//
// Scores combine embedding similarity of descriptions, keyword overlap and
// mood affinity. User scores are memoized per unordered identity pair for a
// fixed TTL. An unavailable embedder never fails a score: the affected
// signal degrades and the degradation is logged.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jacklau/affinity/internal/provider"
	"github.com/jacklau/affinity/internal/retry"
	"github.com/jacklau/affinity/internal/simcache"
	"github.com/jacklau/affinity/internal/similarity"
)

const (
	defaultThreshold       = 0.7
	defaultPrimaryKeywords = 3
	defaultEmbedTimeout    = 10 * time.Second
	defaultEmbedAttempts   = 2
	defaultParallelism     = 4
)

// Score levels used in logs, metrics and match hooks.
const (
	LevelCluster = "cluster"
	LevelUser    = "user"
)

var (
	errEmbeddingUnavailable = errors.New("embedding unavailable")
	errNoEmbedder           = fmt.Errorf("%w: no embedder configured", errEmbeddingUnavailable)
)

// Aggregation selects how a user score is built from clusters.
type Aggregation string

const (
	// AggregateLayers pools keywords across clusters and scores the pools.
	AggregateLayers Aggregation = "layers"

	// AggregatePairs scores every cluster pair and averages best matches.
	AggregatePairs Aggregation = "pairs"
)

// ParseAggregation accepts "layers", "pairs" or "" (layers).
func ParseAggregation(s string) (Aggregation, error) {
	switch Aggregation(s) {
	case "", AggregateLayers:
		return AggregateLayers, nil
	case AggregatePairs:
		return AggregatePairs, nil
	default:
		return "", fmt.Errorf("unknown aggregation %q (want layers or pairs)", s)
	}
}

// Recorder receives engine observations. internal/metrics implements it.
type Recorder interface {
	ObserveScore(level string, score float64)
	HighSimilarity(level string)
	EmbeddingFallback()
	CacheLookup(hit bool)
}

type nopRecorder struct{}

func (nopRecorder) ObserveScore(string, float64) {}
func (nopRecorder) HighSimilarity(string)        {}
func (nopRecorder) EmbeddingFallback()           {}
func (nopRecorder) CacheLookup(bool)             {}

// Engine computes cluster and user similarity. It is safe for concurrent use
// and starts no goroutines of its own outside a call.
type Engine struct {
	embedder        provider.Embedder
	cache           simcache.Cache
	weights         similarity.Weights
	moods           *similarity.MoodAffinity
	threshold       float64
	primaryKeywords int
	aggregation     Aggregation
	embedTimeout    time.Duration
	embedRetry      retry.Policy
	parallelism     int
	recorder        Recorder
	logger          *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache sets the user score cache. The default is a fresh in-memory cache.
func WithCache(c simcache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithWeights sets the default signal weights. They are normalized per call.
func WithWeights(w similarity.Weights) Option {
	return func(e *Engine) { e.weights = w }
}

// WithMoodAffinity replaces the built-in mood affinity table.
func WithMoodAffinity(m *similarity.MoodAffinity) Option {
	return func(e *Engine) { e.moods = m }
}

// WithThreshold sets the score above which a match is logged as high.
func WithThreshold(t float64) Option {
	return func(e *Engine) { e.threshold = t }
}

// WithPrimaryKeywords sets how many leading keywords per cluster form the
// primary layer.
func WithPrimaryKeywords(n int) Option {
	return func(e *Engine) { e.primaryKeywords = n }
}

// WithAggregation selects the user aggregation strategy.
func WithAggregation(a Aggregation) Option {
	return func(e *Engine) { e.aggregation = a }
}

// WithEmbedTimeout bounds each embedding request, retries included.
func WithEmbedTimeout(d time.Duration) Option {
	return func(e *Engine) { e.embedTimeout = d }
}

// WithEmbedRetry sets how rate-limited or timed-out embedding requests are
// retried inside the embed timeout.
func WithEmbedRetry(p retry.Policy) Option {
	return func(e *Engine) { e.embedRetry = p }
}

// WithParallelism bounds concurrent embedding requests within one call.
func WithParallelism(n int) Option {
	return func(e *Engine) { e.parallelism = n }
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine. embedder may be nil, in which case every
// embedding-dependent signal uses its fallback.
func NewEngine(embedder provider.Embedder, opts ...Option) *Engine {
	e := &Engine{
		embedder:        embedder,
		weights:         similarity.DefaultWeights,
		moods:           similarity.DefaultMoodAffinity(),
		threshold:       defaultThreshold,
		primaryKeywords: defaultPrimaryKeywords,
		aggregation:     AggregateLayers,
		embedTimeout:    defaultEmbedTimeout,
		embedRetry: retry.Policy{
			MaxAttempts: defaultEmbedAttempts,
			BaseDelay:   250 * time.Millisecond,
			MaxDelay:    2 * time.Second,
		},
		parallelism: defaultParallelism,
		recorder:    nopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.cache == nil {
		e.cache = simcache.NewMemory()
	}
	if e.moods == nil {
		e.moods = similarity.DefaultMoodAffinity()
	}
	if e.primaryKeywords <= 0 {
		e.primaryKeywords = defaultPrimaryKeywords
	}
	if e.embedTimeout <= 0 {
		e.embedTimeout = defaultEmbedTimeout
	}
	if e.parallelism <= 0 {
		e.parallelism = defaultParallelism
	}
	if e.aggregation == "" {
		e.aggregation = AggregateLayers
	}
	if e.recorder == nil {
		e.recorder = nopRecorder{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.embedRetry.Retryable = provider.IsRetryable
	return e
}

// Cache returns the user score cache.
func (e *Engine) Cache() simcache.Cache {
	return e.cache
}

// Threshold returns the high-similarity threshold. Scores strictly above it
// count as high.
func (e *Engine) Threshold() float64 {
	return e.threshold
}

// Aggregation returns the user aggregation strategy.
func (e *Engine) Aggregation() Aggregation {
	return e.aggregation
}

// Weights returns the default weights.
func (e *Engine) Weights() similarity.Weights {
	return e.weights
}

// embed requests one embedding under the embed timeout. Every failure,
// including an unusable vector, is reported as errEmbeddingUnavailable.
func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	if e.embedder == nil {
		return nil, errNoEmbedder
	}

	ctx, cancel := context.WithTimeout(ctx, e.embedTimeout)
	defer cancel()

	var vec []float32
	err := e.embedRetry.Do(ctx, func() error {
		v, err := e.embedder.Embed(ctx, text)
		vec = v
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errEmbeddingUnavailable, err)
	}
	if err := similarity.ValidateVector(vec); err != nil {
		return nil, fmt.Errorf("%w: %v", errEmbeddingUnavailable, err)
	}
	return vec, nil
}

// fallback records that an embedding-dependent signal was degraded.
func (e *Engine) fallback(ctx context.Context, signal string, err error) {
	if errors.Is(err, errNoEmbedder) {
		e.logger.DebugContext(ctx, "no embedder configured, falling back", "signal", signal)
		return
	}
	e.recorder.EmbeddingFallback()
	e.logger.WarnContext(ctx, "embedding unavailable, falling back",
		"signal", signal,
		"error", err,
	)
}

// note reports a freshly computed score to the recorder and logs high ones.
func (e *Engine) note(ctx context.Context, level string, score float64, attrs ...any) {
	e.recorder.ObserveScore(level, score)
	if score <= e.threshold {
		return
	}
	e.recorder.HighSimilarity(level)
	e.logger.InfoContext(ctx, "high "+level+" similarity",
		append([]any{"score", score, "threshold", e.threshold}, attrs...)...,
	)
}
