// Package bootstrap builds the ledger dependencies shared by the api and
// reconcile-worker binaries from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/angelmondragon/solcoupons-backend/internal/coupons"
	"github.com/angelmondragon/solcoupons-backend/internal/cron"
	"github.com/angelmondragon/solcoupons-backend/internal/filestore"
	"github.com/angelmondragon/solcoupons-backend/pkg/config"
	"github.com/angelmondragon/solcoupons-backend/pkg/db"
	"github.com/angelmondragon/solcoupons-backend/pkg/logger"
	"github.com/angelmondragon/solcoupons-backend/pkg/metrics"
	"github.com/angelmondragon/solcoupons-backend/pkg/migrate"
	"github.com/angelmondragon/solcoupons-backend/pkg/redis"
	"github.com/angelmondragon/solcoupons-backend/pkg/transfer"
)

const reconcileJobName = "withdrawal-reconcile"

// Store is an opened coupon repository plus its health check and teardown.
type Store struct {
	Repo  coupons.Repository
	Ping  func(ctx context.Context) error
	Close func() error
}

// OpenStore opens the configured backend. The sql backend runs dev
// migrations before returning.
func OpenStore(ctx context.Context, cfg *config.Config, logg *logger.Logger, ledgerMetrics *metrics.LedgerMetrics) (*Store, error) {
	if !cfg.Store.UsesSQL() {
		dir, err := filepath.Abs(cfg.Store.DataDir)
		if err != nil {
			return nil, fmt.Errorf("resolve data dir: %w", err)
		}
		fs, err := filestore.New(filestore.Options{Dir: dir, Logger: logg, Metrics: ledgerMetrics})
		if err != nil {
			return nil, err
		}
		logg.Info(logg.WithField(ctx, "data_dir", dir), "file store ready")
		return &Store{Repo: fs, Ping: fs.Ping, Close: func() error { return nil }}, nil
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, err
	}
	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		_ = dbClient.Close()
		return nil, fmt.Errorf("dev migrations: %w", err)
	}
	return &Store{
		Repo:  coupons.NewRepository(dbClient.DB()),
		Ping:  dbClient.Ping,
		Close: dbClient.Close,
	}, nil
}

// NewTransferClient returns the simulator or the signer gateway client.
func NewTransferClient(cfg config.TransferConfig) (transfer.Client, error) {
	if cfg.IsSimulated() {
		return transfer.NewSimulator(), nil
	}
	return transfer.NewGatewayClient(transfer.GatewayConfig{
		BaseURL:        cfg.GatewayURL,
		APIKey:         cfg.APIKey,
		Authority:      cfg.Authority,
		Timeout:        cfg.RequestTimeout,
		RequestsPerSec: cfg.RequestsPerSec,
	})
}

// OpenRedis connects when an endpoint is configured and returns nil otherwise.
func OpenRedis(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*redis.Client, error) {
	if !cfg.Enabled() {
		logg.Warn(ctx, "redis not configured; idempotent replay, rate limiting and the shared reconcile lock are disabled")
		return nil, nil
	}
	return redis.New(ctx, cfg, logg)
}

// ReconcileParams wires the periodic withdrawal reconciler.
type ReconcileParams struct {
	Config      config.ReconcileConfig
	Logger      *logger.Logger
	Repo        coupons.Repository
	Ledger      coupons.Service
	Redis       *redis.Client
	JobMetrics  *metrics.JobMetrics
	LedgerStats *metrics.LedgerMetrics
}

// NewReconcileService builds the cron service running the reconcile job. With
// redis the run lock is shared across processes; without it the lock only
// guards this process.
func NewReconcileService(p ReconcileParams) (*cron.Service, error) {
	job, err := cron.NewWithdrawalReconcileJob(cron.WithdrawalReconcileJobParams{
		Logger:     p.Logger,
		Repository: p.Repo,
		Ledger:     p.Ledger,
		Metrics:    p.LedgerStats,
		Limit:      p.Config.Limit,
		MinAge:     p.Config.MinAge,
	})
	if err != nil {
		return nil, err
	}

	var lock cron.Lock = &cron.LocalLock{}
	if p.Redis != nil {
		redisLock, err := cron.NewRedisLock(p.Redis, p.Redis.LockKey(reconcileJobName), p.Config.LockTTL)
		if err != nil {
			return nil, err
		}
		lock = redisLock
	}

	return cron.NewService(cron.ServiceParams{
		Logger:   p.Logger,
		Registry: cron.NewRegistry(job),
		Lock:     lock,
		Metrics:  p.JobMetrics,
		Interval: p.Config.Interval,
	})
}
