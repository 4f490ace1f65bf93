package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/solcoupons-backend/pkg/config"
	"github.com/angelmondragon/solcoupons-backend/pkg/db"
	"github.com/angelmondragon/solcoupons-backend/pkg/db/models"
	"github.com/angelmondragon/solcoupons-backend/pkg/logger"
)

// MaybeRunDev prepares the SQL schema at startup. sqlite databases are always
// auto-migrated from the models; Postgres runs the embedded goose migrations
// only in dev with the auto-migrate flag enabled.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if cfg == nil || client == nil || !cfg.Store.UsesSQL() {
		return nil
	}

	if client.Driver() == config.DBDriverSQLite {
		logg.Info(logg.WithField(ctx, "driver", client.Driver()), "auto-migrating sqlite schema")
		return AutoMigrate(client)
	}

	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "dir": EmbeddedDir})
	logg.Info(ctx, "running goose migrations (dev auto-run)")

	if err := Run(ctx, sqlDB, EmbeddedDir, "up"); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	logg.Info(ctx, "goose migrations completed")
	return nil
}

// AutoMigrate creates the ledger tables from the gorm models.
func AutoMigrate(client *db.Client) error {
	if err := client.DB().AutoMigrate(&models.Coupon{}, &models.Withdrawal{}, &models.CouponEvent{}); err != nil {
		return fmt.Errorf("auto-migrate ledger tables: %w", err)
	}
	return nil
}
