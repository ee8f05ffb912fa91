// Package config loads the allocator configuration from file, environment
// and flags.
package config

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"

	"github.com/spigell/allocator/internal/eligibility"
	"github.com/spigell/allocator/internal/embedding/gemini"
	"github.com/spigell/allocator/internal/embedding/qdrant"
	"github.com/spigell/allocator/internal/matching"
	"github.com/spigell/allocator/internal/quota"
	"github.com/spigell/allocator/internal/scoring"
)

const (
	// EnvPrefix prefixes every environment override, e.g. ALLOCATOR_MIN_SCORE.
	EnvPrefix = "ALLOCATOR"
	// DefaultName is the config file looked up in the working directory.
	DefaultName = "allocator"
)

type Config struct {
	Scoring     scoring.Config     `mapstructure:"scoring"`
	MinScore    float64            `mapstructure:"min-score"`
	Matching    matching.Config    `mapstructure:"matching"`
	Quota       QuotaConfig        `mapstructure:"quota"`
	Signals     SignalsConfig      `mapstructure:"signals"`
	Eligibility eligibility.Config `mapstructure:"eligibility"`
	Embedding   EmbeddingConfig    `mapstructure:"embedding"`
	Store       StoreConfig        `mapstructure:"store"`
	Publish     PublishConfig      `mapstructure:"publish"`
	Server      ServerConfig       `mapstructure:"server"`
}

// QuotaConfig holds the representation targets. Reconcile switches the
// bounded-swap pass on; without it targets are only measured.
type QuotaConfig struct {
	Reconcile bool           `mapstructure:"reconcile"`
	MaxSwaps  int            `mapstructure:"max-swaps"`
	Targets   []quota.Target `mapstructure:"targets"`
}

type SignalsConfig struct {
	OnMissing eligibility.Policy `mapstructure:"on-missing"`
}

// EmbeddingConfig selects where vectors for records without one come from.
// Lookups are chained: vectors file, then Qdrant, then Gemini.
type EmbeddingConfig struct {
	File    string         `mapstructure:"file"`
	Workers int            `mapstructure:"workers"`
	Gemini  *gemini.Config `mapstructure:"gemini"`
	Qdrant  *qdrant.Config `mapstructure:"qdrant"`
	Timeout time.Duration  `mapstructure:"timeout"`
}

// StoreConfig points at the SQLite run archive. An empty path disables it.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// PublishConfig configures report publishing over NATS. An empty URL disables it.
type PublishConfig struct {
	URL     string        `mapstructure:"url"`
	Subject string        `mapstructure:"subject"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	RequestsPerSecond float64       `mapstructure:"requests-per-second"`
	Burst             int           `mapstructure:"burst"`
	AllowedOrigins    []string      `mapstructure:"allowed-origins"`
	MaxBodyBytes      int64         `mapstructure:"max-body-bytes"`
	ReadTimeout       time.Duration `mapstructure:"read-timeout"`
}

// SetDefaults registers the default of every known key. Keys must be known to
// viper for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	w := scoring.DefaultWeights()
	v.SetDefault("scoring.weights.semantic", w.Semantic)
	v.SetDefault("scoring.weights.overlap", w.Overlap)
	v.SetDefault("scoring.weights.strength", w.Strength)
	v.SetDefault("scoring.weights.bonus", w.Bonus)
	v.SetDefault("scoring.bonuses.cap", scoring.DefaultBonuses().Cap)
	v.SetDefault("scoring.workers", 0)

	v.SetDefault("min-score", 0.0)

	v.SetDefault("matching.workers", 0)
	v.SetDefault("matching.max-rounds", 0)
	v.SetDefault("matching.budget", "0s")

	v.SetDefault("quota.reconcile", true)
	v.SetDefault("quota.max-swaps", quota.DefaultMaxSwaps)

	v.SetDefault("signals.on-missing", string(eligibility.PolicyAbort))

	v.SetDefault("eligibility.min-age", 0)
	v.SetDefault("eligibility.max-age", 0)
	v.SetDefault("eligibility.exclude-file", "")

	v.SetDefault("embedding.file", "")
	v.SetDefault("embedding.workers", 4)
	v.SetDefault("embedding.timeout", "2m")

	v.SetDefault("store.path", "")

	v.SetDefault("publish.url", "")
	v.SetDefault("publish.subject", "allocator.reports")
	v.SetDefault("publish.timeout", "5s")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.requests-per-second", 5.0)
	v.SetDefault("server.burst", 10)
	v.SetDefault("server.max-body-bytes", 8<<20)
	v.SetDefault("server.read-timeout", "30s")
}

// Prepare wires env overrides and defaults into v and reads the config file.
// A missing default file is not an error; a missing explicit file is.
func Prepare(v *viper.Viper, file string) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(DefaultName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return nil
		}
		return eris.Wrap(err, "reading config")
	}
	return nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "decoding config")
	}
	if cfg.Scoring.Bonuses.PerLabel == nil {
		cfg.Scoring.Bonuses.PerLabel = scoring.DefaultBonuses().PerLabel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// EligibilityConfig merges the signal policy into the filter settings.
func (c *Config) EligibilityConfig() *eligibility.Config {
	out := c.Eligibility
	out.OnMissing = c.Signals.OnMissing
	return &out
}

func (c *Config) Validate() error {
	if err := c.Scoring.Weights.Validate(); err != nil {
		return eris.Wrap(err, "scoring")
	}
	if err := c.Scoring.Bonuses.Validate(); err != nil {
		return eris.Wrap(err, "scoring")
	}
	if math.IsNaN(c.MinScore) || c.MinScore < 0 || c.MinScore > 1 {
		return eris.Errorf("min-score must be in [0,1], got %v", c.MinScore)
	}

	if c.Matching.Workers < 0 || c.Matching.MaxRounds < 0 || c.Matching.Budget < 0 {
		return eris.New("matching: workers, max-rounds and budget must not be negative")
	}

	if c.Quota.MaxSwaps < 0 {
		return eris.Errorf("quota: max-swaps must not be negative, got %d", c.Quota.MaxSwaps)
	}
	for i, t := range c.Quota.Targets {
		if err := t.Validate(); err != nil {
			return eris.Wrapf(err, "quota target %d", i)
		}
	}

	switch c.Signals.OnMissing {
	case "", eligibility.PolicyAbort, eligibility.PolicyExclude:
	default:
		return eris.Errorf("signals: unknown on-missing policy %q", c.Signals.OnMissing)
	}

	if c.Embedding.Qdrant != nil && (c.Embedding.Qdrant.Addr == "" || c.Embedding.Qdrant.Collection == "") {
		return eris.New("embedding: qdrant needs addr and collection")
	}
	if c.Publish.URL != "" && c.Publish.Subject == "" {
		return eris.New("publish: subject is required when url is set")
	}
	return nil
}
