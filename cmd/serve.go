package cmd

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/allocator/internal/logger"
	"github.com/spigell/allocator/internal/publish"
	"github.com/spigell/allocator/internal/server"
	"github.com/spigell/allocator/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve allocations over HTTP",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address. Default is server.addr from the config.")
	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func serve() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	cfg, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	e, cleanup, err := newEngine(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("building the engine", zap.Error(err))
	}
	defer cleanup()

	deps := server.Deps{Runner: e, Logger: logger}

	if cfg.Store.Path != "" {
		db, err := store.Open(cfg.Store.Path)
		if err != nil {
			logger.Fatal("opening the run store", zap.Error(err))
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("migrating the run store", zap.Error(err))
		}
		deps.Archive = db
		logger.Info("archiving runs", zap.String("store", cfg.Store.Path))
	}

	if cfg.Publish.URL != "" {
		p, err := publish.Connect(cfg.Publish.URL, cfg.Publish.Subject, cfg.Publish.Timeout, logger)
		if err != nil {
			logger.Fatal("connecting to nats", zap.Error(err))
		}
		defer p.Close()
		deps.Publisher = p
		logger.Info("publishing reports", zap.String("subject", cfg.Publish.Subject))
	}

	srv := server.New(server.Config{
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		Burst:             cfg.Server.Burst,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		ConfigDigest:      configDigest(cfg),
	}, deps)

	logger.Info("starting the allocator server", zap.String("addr", cfg.Server.Addr), zap.String("version", version))
	if err := srv.ListenAndServe(ctx, cfg.Server.Addr, cfg.Server.ReadTimeout); err != nil {
		logger.Fatal("serving", zap.Error(err))
	}
	logger.Info("server stopped")
}
