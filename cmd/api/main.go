package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/payperplane/payperplane/internal/chain"
	"github.com/payperplane/payperplane/internal/config"
	"github.com/payperplane/payperplane/internal/infra"
	"github.com/payperplane/payperplane/internal/logging"
	"github.com/payperplane/payperplane/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.AppName)

	ctx := context.Background()
	deps := server.Deps{Registry: prometheus.NewRegistry()}
	deps.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if path, ok := cfg.SQLitePath(); ok {
		db, err := infra.NewSQLiteDB(path, logger)
		if err != nil {
			logger.Error("open sqlite", slog.Any("error", err))
			os.Exit(1)
		}
		deps.SQLite = db
		defer func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}()
	} else if strings.HasPrefix(cfg.DatabaseURL, "postgres") {
		db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.AppName)
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		deps.DB = db
		defer db.Close()
	} else if cfg.DatabaseURL != "" {
		logger.Error("unsupported DATABASE_URL scheme")
		os.Exit(1)
	}

	if cfg.RedisURL != "" {
		cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Cache = cache
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", slog.Any("error", err))
			}
		}()
	}

	if cfg.PollerEnabled() {
		eth, err := chain.Dial(ctx, cfg.Web3ProviderURI, cfg.ChainCallTimeout)
		if err != nil {
			logger.Error("dial web3 provider", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Chain = eth
		defer eth.Close()
	}

	srv, err := server.New(ctx, cfg, deps, logger)
	if err != nil {
		logger.Error("build server", slog.Any("error", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
