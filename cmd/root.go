package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/jacklau/affinity/internal/config"
	"github.com/jacklau/affinity/internal/embedcache"
	"github.com/jacklau/affinity/internal/engine"
	"github.com/jacklau/affinity/internal/metrics"
	"github.com/jacklau/affinity/internal/moodtag"
	"github.com/jacklau/affinity/internal/notify"
	"github.com/jacklau/affinity/internal/pipeline"
	"github.com/jacklau/affinity/internal/provider"
	"github.com/jacklau/affinity/internal/pubsub"
	"github.com/jacklau/affinity/internal/simcache"
	"github.com/jacklau/affinity/internal/store"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "affinity",
	Short: "Score how alike two people's interests are",
	Long: `Affinity stores interest profiles, scores them against each other by
keyword overlap, mood affinity and description embeddings, and reports
strong matches to Slack/Discord.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default %s)", config.DefaultPath()))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// setupLogger writes JSON logs to stderr at the configured level, or at
// debug when --verbose is set.
func setupLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil {
		level = cfg.Log.SlogLevel()
	}
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// loadConfig reads --config, or the default path. A missing default file
// is not an error: the built-in defaults apply.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.Load(cfgFile)
	}
	cfg, err := config.Load(config.DefaultPath())
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

// components holds initialized components for use by subcommands.
type components struct {
	Config    *config.Config
	Store     *store.DB
	Breaker   *provider.BreakerEmbedder
	Memo      *embedcache.Embedder
	Completer provider.Completer
	Cache     simcache.Cache
	Engine    *engine.Engine
	Tagger    *moodtag.Tagger
	Metrics   *metrics.Metrics
	Registry  *prometheus.Registry
	Updates   *pubsub.Broker[string]
	Matches   *pubsub.Broker[notify.Match]
	Logger    *slog.Logger
}

// Close releases the cache and the store.
func (c *components) Close() error {
	var errs []error
	if c.Cache != nil {
		errs = append(errs, c.Cache.Close())
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	return errors.Join(errs...)
}

// initComponents creates all components from config.
func initComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	c := &components{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
		Updates:  pubsub.NewBroker[string](),
		Matches:  pubsub.NewBroker[notify.Match](),
	}
	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Metrics = metrics.New(c.Registry)

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	c.Store = db

	if err := c.initEmbedder(); err != nil {
		c.Close()
		return nil, err
	}

	completer, err := provider.NewCompleter(providerConfig(cfg.Providers.LLM))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("creating LLM provider: %w", err)
	}
	if completer != nil {
		c.Completer = completer
		c.Tagger = moodtag.New(completer, moodtag.WithLogger(logger))
	}

	cache, err := newCache(ctx, cfg.Cache)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Cache = cache
	if err := c.Metrics.WatchCache(cache); err != nil {
		logger.Warn("cache gauge not registered", "error", err)
	}

	s := cfg.Similarity
	opts := []engine.Option{
		engine.WithCache(cache),
		engine.WithWeights(s.Weights),
		engine.WithThreshold(s.HighSimilarityThreshold),
		engine.WithPrimaryKeywords(s.PrimaryKeywords),
		engine.WithAggregation(s.AggregationMode()),
		engine.WithEmbedTimeout(s.EmbedTimeout()),
		engine.WithRecorder(c.Metrics),
		engine.WithLogger(logger),
	}
	if c.Memo != nil {
		c.Engine = engine.NewEngine(c.Memo, opts...)
	} else {
		c.Engine = engine.NewEngine(nil, opts...)
	}
	return c, nil
}

// initEmbedder builds provider -> circuit breaker -> memo. Without a
// configured provider the engine scores keywords and moods only.
func (c *components) initEmbedder() error {
	cfg := c.Config
	inner, err := provider.NewEmbedder(providerConfig(cfg.Providers.Embedding))
	if err != nil {
		return fmt.Errorf("creating embedding provider: %w", err)
	}
	if inner == nil {
		c.Logger.Debug("no embedding provider configured, descriptions will not be compared")
		return nil
	}

	e := cfg.Embeddings
	c.Breaker = provider.NewBreakerEmbedder(inner, provider.BreakerSettings{
		Name:          "embedding",
		MaxFailures:   e.Breaker.MaxFailures,
		OpenTimeout:   e.Breaker.OpenTimeout(),
		OnStateChange: c.Metrics.BreakerStateChange,
	}, c.Logger)

	memoOpts := []embedcache.Option{
		embedcache.WithSize(e.MemoSize),
		embedcache.WithTTL(e.MemoTTL()),
		embedcache.WithModel(provider.ModelName(inner)),
		embedcache.WithLogger(c.Logger),
	}
	if e.Persist {
		memoOpts = append(memoOpts, embedcache.WithStore(c.Store))
	}
	c.Memo = embedcache.New(c.Breaker, memoOpts...)
	return nil
}

func providerConfig(p config.ProviderConfig) provider.Config {
	return provider.Config{Type: p.Type, Model: p.Model, APIKey: p.APIKey, URL: p.URL}
}

func newCache(ctx context.Context, cfg config.CacheConfig) (simcache.Cache, error) {
	switch cfg.Backend {
	case "redis":
		r, err := simcache.NewRedis(ctx, cfg.RedisURL,
			simcache.WithTTL(cfg.TTL()),
			simcache.WithPrefix("affinity:pair:"),
		)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis cache: %w", err)
		}
		return r, nil
	default:
		return simcache.NewMemory(
			simcache.WithTTL(cfg.TTL()),
			simcache.WithShards(cfg.Shards),
		), nil
	}
}

// createNotifier builds a Notifier from config and flag override. It
// returns nil when nothing is configured.
func createNotifier(cfg *config.Config, notifyFlag string, opts ...notify.Option) (notify.Notifier, error) {
	if notifyFlag == "" {
		return notify.FromWebhooks(cfg.Notify.SlackWebhook, cfg.Notify.DiscordWebhook, opts...), nil
	}
	return notify.NewNotifier(notifyFlag, cfg.Notify.SlackWebhook, cfg.Notify.DiscordWebhook, opts...)
}

// createPipeline builds a Pipeline from components.
func createPipeline(c *components, n notify.Notifier) *pipeline.Pipeline {
	return pipeline.New(pipeline.Deps{
		Scorer:      c.Engine,
		Store:       c.Store,
		Notifier:    n,
		Updates:     c.Updates,
		Matches:     c.Matches,
		Threshold:   c.Engine.Threshold(),
		Aggregation: string(c.Engine.Aggregation()),
		TopN:        c.Config.Rank.TopN,
		Workers:     c.Config.Rank.Workers,
		Logger:      c.Logger,
	})
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// setup loads config, the logger and components in the order every
// subcommand needs them.
func setup(ctx context.Context) (*components, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg)
	c, err := initComponents(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing components: %w", err)
	}
	return c, nil
}
