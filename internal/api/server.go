// Package api exposes the similarity engine over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jacklau/affinity/internal/engine"
	"github.com/jacklau/affinity/internal/metrics"
	"github.com/jacklau/affinity/internal/pipeline"
	"github.com/jacklau/affinity/internal/similarity"
	"github.com/jacklau/affinity/internal/store"
)

const (
	defaultRateLimit = 120
	maxBodyBytes     = 1 << 20
	shutdownTimeout  = 10 * time.Second
)

// Scorer is the part of *engine.Engine the API calls.
type Scorer interface {
	ScoreUsersWithWeights(ctx context.Context, a, b engine.ProfileBundle, w similarity.Weights) (float64, error)
	ScoreClustersWithWeights(ctx context.Context, a, b engine.InterestCluster, w similarity.Weights) (float64, error)
	Weights() similarity.Weights
}

// Ranker is the part of *pipeline.Pipeline the API calls.
type Ranker interface {
	Rank(ctx context.Context, identity string) ([]pipeline.Ranked, error)
}

// Profiles reads and writes stored bundles. *store.DB satisfies it.
type Profiles interface {
	GetProfile(identity string) (*store.Profile, error)
	UpsertProfile(b engine.ProfileBundle) error
}

// Deps holds the dependencies for the Server.
type Deps struct {
	Scorer   Scorer
	Ranker   Ranker
	Profiles Profiles
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	// RateLimit is requests per minute per client IP on /api routes.
	// Negative disables limiting.
	RateLimit int
	Logger    *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	deps Deps
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.RateLimit == 0 {
		deps.RateLimit = defaultRateLimit
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{deps: deps}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if s.deps.Metrics != nil {
		r.Use(s.deps.Metrics.Middleware)
	}

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		if s.deps.RateLimit > 0 {
			r.Use(httprate.LimitByIP(s.deps.RateLimit, time.Minute))
		}
		r.Use(chimiddleware.AllowContentType("application/json"))

		r.Post("/similarity/users", s.handleScoreUsers)
		r.Post("/similarity/clusters", s.handleScoreClusters)

		r.Route("/profiles/{identity}", func(r chi.Router) {
			r.Get("/", s.handleGetProfile)
			r.Put("/", s.handlePutProfile)
			r.Get("/similar", s.handleSimilar)
		})
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
