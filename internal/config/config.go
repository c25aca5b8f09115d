// Package config loads the YAML configuration file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jacklau/affinity/internal/engine"
	"github.com/jacklau/affinity/internal/similarity"
)

// Config is the top-level configuration.
type Config struct {
	Providers  ProvidersConfig  `yaml:"providers"`
	Similarity SimilarityConfig `yaml:"similarity"`
	Cache      CacheConfig      `yaml:"cache"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Rank       RankConfig       `yaml:"rank"`
	Notify     NotifyConfig     `yaml:"notify"`
	Store      StoreConfig      `yaml:"store"`
	Server     ServerConfig     `yaml:"server"`
	Watch      WatchConfig      `yaml:"watch"`
	Log        LogConfig        `yaml:"log"`
}

// ProviderConfig holds settings for a single provider (embedding or LLM).
type ProviderConfig struct {
	Type   string `yaml:"type"`
	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key"`
	URL    string `yaml:"url"`
}

// ProvidersConfig groups embedding and LLM provider configs.
type ProvidersConfig struct {
	Embedding ProviderConfig `yaml:"embedding"`
	LLM       ProviderConfig `yaml:"llm"`
}

// SimilarityConfig tunes the scoring engine.
type SimilarityConfig struct {
	Weights                 similarity.Weights `yaml:"weights"`
	HighSimilarityThreshold float64            `yaml:"high_similarity_threshold"`
	PrimaryKeywords         int                `yaml:"primary_keywords"`
	Aggregation             string             `yaml:"aggregation"`
	EmbedTimeoutRaw         string             `yaml:"embed_timeout"`
}

// CacheConfig selects the pair score cache backend.
type CacheConfig struct {
	Backend  string `yaml:"backend"`
	TTLRaw   string `yaml:"ttl"`
	Shards   int    `yaml:"shards"`
	RedisURL string `yaml:"redis_url"`
}

// BreakerConfig configures the embedding circuit breaker.
type BreakerConfig struct {
	MaxFailures    uint32 `yaml:"max_failures"`
	OpenTimeoutRaw string `yaml:"open_timeout"`
}

// EmbeddingsConfig configures embedding memoization.
type EmbeddingsConfig struct {
	MemoSize   int           `yaml:"memo_size"`
	MemoTTLRaw string        `yaml:"memo_ttl"`
	Persist    bool          `yaml:"persist"`
	Breaker    BreakerConfig `yaml:"breaker"`
}

// RankConfig configures the rank pipeline.
type RankConfig struct {
	TopN    int `yaml:"top_n"`
	Workers int `yaml:"workers"`
}

// NotifyConfig holds notification webhook URLs.
type NotifyConfig struct {
	SlackWebhook   string `yaml:"slack_webhook"`
	DiscordWebhook string `yaml:"discord_webhook"`
}

// StoreConfig holds storage settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// RateLimit is requests per minute per client IP; negative disables it.
	RateLimit int `yaml:"rate_limit"`
}

// WatchConfig holds profile watcher settings.
type WatchConfig struct {
	PollIntervalRaw string `yaml:"poll_interval"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// EmbedTimeout returns the per-request embedding budget.
func (s SimilarityConfig) EmbedTimeout() time.Duration {
	return mustDuration(s.EmbedTimeoutRaw)
}

// AggregationMode returns the parsed aggregation.
func (s SimilarityConfig) AggregationMode() engine.Aggregation {
	a, _ := engine.ParseAggregation(s.Aggregation)
	return a
}

// TTL returns the pair score lifetime.
func (c CacheConfig) TTL() time.Duration {
	return mustDuration(c.TTLRaw)
}

// MemoTTL returns the in-memory embedding lifetime.
func (e EmbeddingsConfig) MemoTTL() time.Duration {
	return mustDuration(e.MemoTTLRaw)
}

// OpenTimeout returns how long the breaker stays open.
func (b BreakerConfig) OpenTimeout() time.Duration {
	return mustDuration(b.OpenTimeoutRaw)
}

// PollInterval returns the watcher poll interval.
func (w WatchConfig) PollInterval() time.Duration {
	return mustDuration(w.PollIntervalRaw)
}

// SlogLevel maps the configured level to a slog.Level.
func (l LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// mustDuration parses a duration already checked by validate.
func mustDuration(raw string) time.Duration {
	d, _ := time.ParseDuration(raw)
	return d
}

// DefaultPath returns ~/.affinity/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".affinity", "config.yaml")
	}
	return filepath.Join(home, ".affinity", "config.yaml")
}

// envVarPattern matches ${VAR} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} placeholders with environment variable values.
// Returns an error if any referenced variable is not set.
func expandEnvVars(data []byte) ([]byte, error) {
	var missing []string

	result := envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := string(envVarPattern.FindSubmatch(match)[1])
		val, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		return []byte(val)
	})

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return result, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + path[1:]
}

// Load reads and parses a config file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Parse parses config from raw YAML bytes, expanding env vars and validating.
func Parse(data []byte) (*Config, error) {
	expanded, err := expandEnvVars(data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	s := &cfg.Similarity
	if s.Weights == (similarity.Weights{}) {
		s.Weights = similarity.DefaultWeights
	}
	if s.HighSimilarityThreshold == 0 {
		s.HighSimilarityThreshold = 0.7
	}
	if s.PrimaryKeywords == 0 {
		s.PrimaryKeywords = 3
	}
	if s.Aggregation == "" {
		s.Aggregation = string(engine.AggregateLayers)
	}
	if s.EmbedTimeoutRaw == "" {
		s.EmbedTimeoutRaw = "10s"
	}

	c := &cfg.Cache
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.TTLRaw == "" {
		c.TTLRaw = "30m"
	}
	if c.Shards == 0 {
		c.Shards = 32
	}
	if c.Backend == "redis" && c.RedisURL == "" {
		c.RedisURL = "redis://localhost:6379/0"
	}

	e := &cfg.Embeddings
	if e.MemoSize == 0 {
		e.MemoSize = 4096
	}
	if e.MemoTTLRaw == "" {
		e.MemoTTLRaw = "1h"
	}
	if e.Breaker.MaxFailures == 0 {
		e.Breaker.MaxFailures = 5
	}
	if e.Breaker.OpenTimeoutRaw == "" {
		e.Breaker.OpenTimeoutRaw = "30s"
	}

	if cfg.Rank.TopN == 0 {
		cfg.Rank.TopN = 10
	}
	if cfg.Rank.Workers == 0 {
		cfg.Rank.Workers = 4
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "~/.affinity/affinity.db"
	}
	cfg.Store.Path = expandTilde(cfg.Store.Path)
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = 120
	}
	if cfg.Watch.PollIntervalRaw == "" {
		cfg.Watch.PollIntervalRaw = "1m"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func validate(cfg *Config) error {
	s := cfg.Similarity
	if _, err := s.Weights.Normalize(); err != nil {
		return fmt.Errorf("similarity.weights: %w", err)
	}
	if s.HighSimilarityThreshold < 0 || s.HighSimilarityThreshold > 1 {
		return fmt.Errorf("high_similarity_threshold must be between 0 and 1, got %f", s.HighSimilarityThreshold)
	}
	if s.PrimaryKeywords < 0 {
		return fmt.Errorf("primary_keywords must be positive, got %d", s.PrimaryKeywords)
	}
	if _, err := engine.ParseAggregation(s.Aggregation); err != nil {
		return err
	}

	durations := []struct {
		name string
		raw  string
	}{
		{"similarity.embed_timeout", s.EmbedTimeoutRaw},
		{"cache.ttl", cfg.Cache.TTLRaw},
		{"embeddings.memo_ttl", cfg.Embeddings.MemoTTLRaw},
		{"embeddings.breaker.open_timeout", cfg.Embeddings.Breaker.OpenTimeoutRaw},
		{"watch.poll_interval", cfg.Watch.PollIntervalRaw},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, d.raw, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.raw)
		}
	}
	if t := s.EmbedTimeout(); t < 5*time.Second || t > 30*time.Second {
		return fmt.Errorf("similarity.embed_timeout must be between 5s and 30s, got %s", t)
	}

	switch cfg.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache backend: %s", cfg.Cache.Backend)
	}
	if cfg.Cache.Shards < 0 || cfg.Embeddings.MemoSize < 0 {
		return fmt.Errorf("cache.shards and embeddings.memo_size must not be negative")
	}
	if cfg.Rank.TopN < 0 || cfg.Rank.Workers < 0 {
		return fmt.Errorf("rank.top_n and rank.workers must not be negative")
	}

	validEmbedTypes := map[string]bool{"openai": true, "ollama": true, "": true}
	if !validEmbedTypes[cfg.Providers.Embedding.Type] {
		return fmt.Errorf("unsupported embedding provider type: %s", cfg.Providers.Embedding.Type)
	}
	validLLMTypes := map[string]bool{"openai": true, "ollama": true, "anthropic": true, "": true}
	if !validLLMTypes[cfg.Providers.LLM.Type] {
		return fmt.Errorf("unsupported LLM provider type: %s", cfg.Providers.LLM.Type)
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", cfg.Log.Level)
	}
	return nil
}
