// Package metrics exports Prometheus metrics for scoring, embedding health,
// the pair cache and the HTTP API.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"

	"github.com/jacklau/affinity/internal/engine"
	"github.com/jacklau/affinity/internal/simcache"
)

const namespace = "affinity"

// Metrics holds every collector. It implements engine.Recorder.
type Metrics struct {
	scores       *prometheus.HistogramVec
	high         *prometheus.CounterVec
	fallbacks    prometheus.Counter
	cacheLookups *prometheus.CounterVec
	breakerState *prometheus.GaugeVec
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec

	reg prometheus.Registerer
}

var _ engine.Recorder = (*Metrics)(nil)

// New registers the collectors with reg, normally the registry served on
// /metrics.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		scores: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "similarity_score",
			Help:      "Freshly computed similarity scores",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}, []string{"level"}),
		high: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "high_similarity_total",
			Help:      "Scores above the high-similarity threshold",
		}, []string{"level"}),
		fallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_fallbacks_total",
			Help:      "Signals degraded because an embedding was unavailable",
		}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Pair score cache lookups by result",
		}, []string{"result"}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "embedder_breaker_state",
			Help:      "Embedding circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"breaker"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "HTTP API requests",
		}, []string{"method", "route", "status_code"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "HTTP API request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		reg: reg,
	}
}

// ObserveScore records a freshly computed score.
func (m *Metrics) ObserveScore(level string, score float64) {
	m.scores.WithLabelValues(level).Observe(score)
}

// HighSimilarity counts a score above the threshold.
func (m *Metrics) HighSimilarity(level string) {
	m.high.WithLabelValues(level).Inc()
}

// EmbeddingFallback counts a degraded signal.
func (m *Metrics) EmbeddingFallback() {
	m.fallbacks.Inc()
}

// CacheLookup counts a pair cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// BreakerStateChange matches provider.BreakerSettings.OnStateChange.
func (m *Metrics) BreakerStateChange(name string, _, to gobreaker.State) {
	m.breakerState.WithLabelValues(name).Set(breakerValue(to))
}

func breakerValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// WatchCache exports the number of entries in c, read at scrape time.
func (m *Metrics) WatchCache(c simcache.Cache) error {
	return m.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_entries",
		Help:      "Entries held by the pair score cache",
	}, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		n, err := c.Len(ctx)
		if err != nil {
			return -1
		}
		return float64(n)
	}))
}

// Middleware records request counts and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		m.latency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
