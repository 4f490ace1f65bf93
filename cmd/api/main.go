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
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/solcoupons-backend/api/controllers"
	"github.com/angelmondragon/solcoupons-backend/api/routes"
	"github.com/angelmondragon/solcoupons-backend/internal/bootstrap"
	"github.com/angelmondragon/solcoupons-backend/internal/coupons"
	"github.com/angelmondragon/solcoupons-backend/internal/cron"
	"github.com/angelmondragon/solcoupons-backend/pkg/config"
	"github.com/angelmondragon/solcoupons-backend/pkg/instance"
	"github.com/angelmondragon/solcoupons-backend/pkg/logger"
	"github.com/angelmondragon/solcoupons-backend/pkg/metrics"
)

const shutdownTimeout = 30 * time.Second

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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
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

	var reconciler *cron.Service
	if cfg.Reconcile.InAPI {
		reconciler, err = bootstrap.NewReconcileService(bootstrap.ReconcileParams{
			Config:      cfg.Reconcile,
			Logger:      logg,
			Repo:        store.Repo,
			Ledger:      couponService,
			Redis:       redisClient,
			JobMetrics:  metrics.NewJobMetrics(registry),
			LedgerStats: ledgerMetrics,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create withdrawal reconciler", err)
			os.Exit(1)
		}
	}

	readiness := map[string]controllers.Pinger{"store": pingerFunc(store.Ping)}
	if redisClient != nil {
		readiness["redis"] = redisClient
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":           cfg.App.Env,
		"addr":          addr,
		"instance":      instance.GetID(),
		"store_backend": cfg.Store.Backend,
		"transfer_mode": cfg.Transfer.Mode,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, couponService, redisClient, readiness, registry),
		ReadHeaderTimeout: 10 * time.Second,
		// Withdrawals hold the request open until the transfer confirms.
		WriteTimeout: cfg.Transfer.ConfirmTimeout + cfg.Transfer.RequestTimeout + 10*time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), shutdownTimeout)
		defer cancel()
		logg.Info(ctx, "api server shutting down")
		return server.Shutdown(shutdownCtx)
	})

	if reconciler != nil {
		group.Go(func() error {
			if err := reconciler.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped")
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }
