package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/solcoupons-backend/internal/bootstrap"
	"github.com/angelmondragon/solcoupons-backend/internal/coupons"
	"github.com/angelmondragon/solcoupons-backend/pkg/config"
	"github.com/angelmondragon/solcoupons-backend/pkg/instance"
	"github.com/angelmondragon/solcoupons-backend/pkg/logger"
	"github.com/angelmondragon/solcoupons-backend/pkg/metrics"
)

// metricsAddrEnv optionally exposes /metrics for the worker.
const metricsAddrEnv = "SOLCOUPONS_WORKER_METRICS_ADDR"

func main() {
	logg := logger.New(logger.Options{ServiceName: "reconcile-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "reconcile-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if cfg.Transfer.IsSimulated() {
		logg.Warn(context.Background(), "simulated transfers are per process; open intents from the api will resolve as failed here")
	}

	registry := prometheus.NewRegistry()
	ledgerMetrics := metrics.NewLedgerMetrics(registry)

	store, err := bootstrap.OpenStore(context.Background(), cfg, logg, ledgerMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to open coupon store", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logg.Error(context.Background(), "error closing coupon store", err)
		}
	}()

	redisClient, err := bootstrap.OpenRedis(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
	}

	transferClient, err := bootstrap.NewTransferClient(cfg.Transfer)
	if err != nil {
		logg.Error(context.Background(), "failed to create transfer client", err)
		os.Exit(1)
	}

	couponService, err := coupons.NewService(coupons.ServiceParams{
		Repo:           store.Repo,
		Transfer:       transferClient,
		PoolAddress:    cfg.Pool.Address,
		Logger:         logg,
		Metrics:        ledgerMetrics,
		ConfirmTimeout: cfg.Transfer.ConfirmTimeout,
		SubmitTimeout:  cfg.Transfer.RequestTimeout,
		PollInterval:   cfg.Transfer.PollInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create coupon service", err)
		os.Exit(1)
	}

	service, err := bootstrap.NewReconcileService(bootstrap.ReconcileParams{
		Config:      cfg.Reconcile,
		Logger:      logg,
		Repo:        store.Repo,
		Ledger:      couponService,
		Redis:       redisClient,
		JobMetrics:  metrics.NewJobMetrics(registry),
		LedgerStats: ledgerMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "reconcile-worker",
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting reconcile worker")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := service.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if addr := os.Getenv(metricsAddrEnv); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		group.Go(func() error {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	if err := group.Wait(); err != nil {
		logg.Error(ctx, "reconcile worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "reconcile worker shutting down gracefully")
}
