package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/iandrade/storefront-backend/internal/jobs"
	"github.com/iandrade/storefront-backend/internal/lease"
	"github.com/iandrade/storefront-backend/internal/notifications"
	"github.com/iandrade/storefront-backend/internal/stock"
	"github.com/iandrade/storefront-backend/pkg/config"
	"github.com/iandrade/storefront-backend/pkg/db"
	"github.com/iandrade/storefront-backend/pkg/logger"
	"github.com/iandrade/storefront-backend/pkg/metrics"
	"github.com/iandrade/storefront-backend/pkg/migrate"
	"github.com/iandrade/storefront-backend/pkg/outbox"
	"github.com/iandrade/storefront-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "reconciler"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "reconciler",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	checkoutMetrics := metrics.NewCheckoutMetrics(registry)
	jobMetrics := metrics.NewJobMetrics(registry)

	leaseStore, err := lease.NewStore(redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create lease store", err)
		os.Exit(1)
	}

	reconcileJob, err := jobs.NewReconcileHoldsJob(dbClient.DB(), stock.NewLedger(), leaseStore, logg, checkoutMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile job", err)
		os.Exit(1)
	}

	dispatcher, err := notifications.NewLogDispatcher(logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create event dispatcher", err)
		os.Exit(1)
	}
	outboxJob, err := jobs.NewOutboxDispatchJob(
		outbox.NewRepository(dbClient.DB()),
		dispatcher,
		logg,
		cfg.Outbox.BatchSize,
		cfg.Outbox.MaxAttempts,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox job", err)
		os.Exit(1)
	}

	lock, err := jobs.NewRedisLock(redisClient, redisClient.LockKey("reconciler"), cfg.Reconciler.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create worker lock", err)
		os.Exit(1)
	}

	service, err := jobs.NewService(jobs.ServiceParams{
		Logger:   logg,
		Registry: jobs.NewRegistry(reconcileJob, outboxJob),
		Lock:     lock,
		Metrics:  jobMetrics,
		Interval: cfg.Reconciler.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env})
	logg.Info(ctx, "starting reconciler worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "reconciler stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "reconciler shutting down gracefully")
}
