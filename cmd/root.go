package cmd

import (
	"context"
	"encoding/json"
	"log"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/allocator/internal/config"
	"github.com/spigell/allocator/internal/embedding"
	"github.com/spigell/allocator/internal/embedding/gemini"
	"github.com/spigell/allocator/internal/embedding/qdrant"
	"github.com/spigell/allocator/internal/engine"
)

const (
	app = "allocator"
)

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "allocator matches candidates to capacity-limited opportunities with stable matching and quota targets",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is allocator.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// The version command needs no configuration.
	if versionCmd.CalledAs() != "" {
		return
	}

	// We can't proceed if the config file parsed with error.
	if err := config.Prepare(viper.GetViper(), cfgFile); err != nil {
		log.Fatal(err)
	}
}

func getConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

// configDigest is the part of the input fingerprint contributed by settings.
func configDigest(cfg *config.Config) []byte {
	// do not bother error since the config was decoded from plain values
	data, _ := json.Marshal(cfg)
	return data
}

// newLookup chains the configured vector sources: vectors file, Qdrant, Gemini.
// With Qdrant write-back enabled Gemini results are cached in Qdrant.
func newLookup(ctx context.Context, cfg *config.Config, logger *zap.Logger) (embedding.Lookup, func(), error) {
	var chain embedding.Chain
	var closers []func() error
	cleanup := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("closing embedding lookup", zap.Error(err))
			}
		}
	}

	if cfg.Embedding.File != "" {
		static, err := embedding.LoadStatic(cfg.Embedding.File)
		if err != nil {
			return nil, cleanup, err
		}
		chain = append(chain, static)
	}

	var store *qdrant.Store
	if q := cfg.Embedding.Qdrant; q != nil {
		var err error
		store, err = qdrant.New(q.Addr, q.Collection)
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, store.Close)
	}

	var client *gemini.Client
	if g := cfg.Embedding.Gemini; g != nil {
		var err error
		client, err = gemini.New(ctx, *g, logger)
		if err != nil {
			return nil, cleanup, eris.Wrap(err, "embedding")
		}
	}

	switch {
	case store != nil && client != nil && cfg.Embedding.Qdrant.WriteBack:
		chain = append(chain, qdrant.Cache{Store: store, Source: client})
	default:
		if store != nil {
			chain = append(chain, store)
		}
		if client != nil {
			chain = append(chain, client)
		}
	}

	if len(chain) == 0 {
		return nil, cleanup, nil
	}
	logger.Info("embedding lookups", zap.Int("count", len(chain)))
	return chain, cleanup, nil
}

func newEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*engine.Engine, func(), error) {
	lookup, cleanup, err := newLookup(ctx, cfg, logger)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}

	e, err := engine.New(engine.Options{
		Scoring:          cfg.Scoring,
		MinScore:         cfg.MinScore,
		Matching:         cfg.Matching,
		Reconcile:        cfg.Quota.Reconcile,
		MaxSwaps:         cfg.Quota.MaxSwaps,
		Targets:          cfg.Quota.Targets,
		Eligibility:      *cfg.EligibilityConfig(),
		Lookup:           lookup,
		EmbeddingWorkers: cfg.Embedding.Workers,
		EmbeddingTimeout: cfg.Embedding.Timeout,
	}, logger)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return e, cleanup, nil
}
