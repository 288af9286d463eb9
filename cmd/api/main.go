package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kita-pay/kita_pay/internal/config"
	"github.com/kita-pay/kita_pay/internal/infra"
	"github.com/kita-pay/kita_pay/internal/logging"
	"github.com/kita-pay/kita_pay/internal/metrics"
	"github.com/kita-pay/kita_pay/internal/notification"
	"github.com/kita-pay/kita_pay/internal/server"
	"github.com/kita-pay/kita_pay/internal/settlement"
	"github.com/kita-pay/kita_pay/internal/withdrawal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	metrics.Init()

	ctx := context.Background()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := infra.RunMigrations(ctx, db); err != nil {
			logger.Error("run migrations", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory ledger")
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	} else {
		logger.Warn("REDIS_URL not set, rate limiting disabled")
	}

	srv, err := server.New(cfg, db, cache, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	var settler settlement.Client
	if cfg.SettlementURL != "" {
		settler = settlement.NewHTTPClient(cfg.SettlementURL, cfg.SettlementTimeout)
	} else {
		logger.Warn("SETTLEMENT_URL not set, approving all settlements")
		settler = settlement.StaticClient{}
	}

	notifier := notification.NewLoggerNotifier(logger)
	executor := withdrawal.NewExecutor(srv.Store(), settler, notifier, logger, cfg.SettlementTimeout)
	scheduler := withdrawal.NewScheduler(srv.Store(), executor, logger, cfg.SweepInterval)

	schedulerCtx, stopScheduler := context.WithCancel(ctx)
	defer stopScheduler()
	go scheduler.Run(schedulerCtx)

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	stopScheduler()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
