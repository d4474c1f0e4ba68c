package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/iandrade/storefront-backend/api/routes"
	"github.com/iandrade/storefront-backend/internal/address"
	"github.com/iandrade/storefront-backend/internal/cart"
	checkoutsvc "github.com/iandrade/storefront-backend/internal/checkout"
	couponsvc "github.com/iandrade/storefront-backend/internal/coupon"
	"github.com/iandrade/storefront-backend/internal/lease"
	"github.com/iandrade/storefront-backend/internal/order"
	"github.com/iandrade/storefront-backend/internal/payments"
	"github.com/iandrade/storefront-backend/internal/reservation"
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
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	leaseStore, err := lease.NewStore(redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create lease store", err)
		os.Exit(1)
	}

	ledger := stock.NewLedger()
	cartRepo := cart.NewRepository(dbClient.DB())
	addressRepo := address.NewRepository(dbClient.DB())
	orderRepo := order.NewRepository(dbClient.DB())
	paymentRepo := payments.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	couponService, err := couponsvc.NewService(couponsvc.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create coupon service", err)
		os.Exit(1)
	}

	reservationService, err := reservation.NewService(reservation.ServiceParams{
		DB:      dbClient.DB(),
		Ledger:  ledger,
		Carts:   cartRepo,
		Leases:  leaseStore,
		Logger:  logg,
		Metrics: checkoutMetrics,
		TTL:     cfg.Checkout.ReservationTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reservation service", err)
		os.Exit(1)
	}

	var provider payments.ProviderClient
	if cfg.Payment.ProviderBaseURL != "" {
		httpProvider, providerErr := payments.NewHTTPProvider(cfg.Payment)
		if providerErr != nil {
			logg.Error(context.Background(), "failed to create payment provider client", providerErr)
			os.Exit(1)
		}
		provider = httpProvider
	} else {
		logg.Warn(context.Background(), "no payment provider configured, online payments disabled")
	}

	checkoutService, err := checkoutsvc.NewService(checkoutsvc.ServiceParams{
		DB:        dbClient.DB(),
		Ledger:    ledger,
		Leases:    leaseStore,
		Carts:     cartRepo,
		Addresses: addressRepo,
		Orders:    orderRepo,
		Coupons:   couponService,
		Provider:  provider,
		Outbox:    outboxService,
		Logger:    logg,
		Metrics:   checkoutMetrics,
		Checkout:  cfg.Checkout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	clientSigner, err := payments.NewSigner(cfg.Payment.ProviderSecret)
	if err != nil {
		logg.Error(context.Background(), "failed to create client signer", err)
		os.Exit(1)
	}
	webhookSigner, err := payments.NewSigner(cfg.Payment.WebhookSecret)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook signer", err)
		os.Exit(1)
	}
	webhookGuard, err := payments.NewIdempotencyGuard(redisClient, cfg.Payment.IdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	paymentService, err := payments.NewService(payments.ServiceParams{
		DB:            dbClient.DB(),
		Payments:      paymentRepo,
		Ledger:        ledger,
		Outbox:        outboxService,
		Guard:         webhookGuard,
		ClientSigner:  clientSigner,
		WebhookSigner: webhookSigner,
		Logger:        logg,
		Metrics:       checkoutMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Logger:       logg,
			DBPinger:     dbClient,
			RedisPinger:  redisClient,
			IdemStore:    redisClient,
			Registry:     registry,
			Reservations: reservationService,
			Checkout:     checkoutService,
			Coupons:      couponService,
			Payments:     paymentService,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
