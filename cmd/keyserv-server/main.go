// Package main is the entrypoint for the keyserv server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/mkserv/keyserv/internal/api"
	"github.com/mkserv/keyserv/internal/cache"
	"github.com/mkserv/keyserv/internal/config"
	"github.com/mkserv/keyserv/internal/db"
	"github.com/mkserv/keyserv/internal/keys"
	"github.com/mkserv/keyserv/internal/metrics"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg, err := config.LoadServerConfig()
	if err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return 1
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	logger.Info().
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Str("env", string(cfg.Environment)).
		Msg("starting keyserv server")

	database, err := db.New(ctx, db.DefaultConfig(cfg.DatabaseURL), logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return 1
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to run database migrations")
		return 1
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	stats, err := metrics.New(registry)
	if err != nil {
		logger.Error().Err(err).Msg("failed to register metrics")
		return 1
	}

	var keyCache keys.KeyCache
	if cfg.RedisAddr != "" {
		c, err := cache.New(cfg.RedisAddr, cfg.CheckCacheTTL, logger)
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect to redis")
			return 1
		}
		defer c.Close()
		keyCache = c
		logger.Info().Str("addr", cfg.RedisAddr).Dur("ttl", cfg.CheckCacheTTL).Msg("check cache enabled")
	}

	svc := keys.New(database, keyCache, stats, logger)

	router := api.NewRouter(api.Config{
		Environment:       cfg.Environment,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitPeriod:   cfg.RateLimitPeriod,
		Registry:          registry,
	}, database, svc, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server failed")
			return 1
		}
		return 0
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		return 1
	}

	logger.Info().Msg("server stopped")
	return 0
}
