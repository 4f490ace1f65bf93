package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/solcoupons-backend/internal/coupons"
	"github.com/angelmondragon/solcoupons-backend/pkg/db/models"
	"github.com/angelmondragon/solcoupons-backend/pkg/logger"
	"github.com/angelmondragon/solcoupons-backend/pkg/metrics"
)

const (
	defaultReconcileLimit  = 100
	defaultReconcileMinAge = 2 * time.Minute
)

type withdrawalLister interface {
	ListWithdrawalsForReconcile(ctx context.Context, olderThan time.Time, limit int) ([]models.Withdrawal, error)
}

type withdrawalReconciler interface {
	ReconcileWithdrawal(ctx context.Context, withdrawal models.Withdrawal) (coupons.ReconcileOutcome, error)
}

// WithdrawalReconcileJobParams configures the withdrawal reconciliation job.
// MinAge keeps the job away from intents an API request may still be awaiting.
type WithdrawalReconcileJobParams struct {
	Logger     *logger.Logger
	Repository withdrawalLister
	Ledger     withdrawalReconciler
	Metrics    *metrics.LedgerMetrics
	Limit      int
	MinAge     time.Duration
	Now        func() time.Time
}

// NewWithdrawalReconcileJob builds the job that resolves open withdrawal intents.
func NewWithdrawalReconcileJob(params WithdrawalReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("withdrawal repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("coupon ledger required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	minAge := params.MinAge
	if minAge <= 0 {
		minAge = defaultReconcileMinAge
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &withdrawalReconcileJob{
		logg:    params.Logger,
		repo:    params.Repository,
		ledger:  params.Ledger,
		metrics: params.Metrics,
		limit:   limit,
		minAge:  minAge,
		now:     now,
	}, nil
}

type withdrawalReconcileJob struct {
	logg    *logger.Logger
	repo    withdrawalLister
	ledger  withdrawalReconciler
	metrics *metrics.LedgerMetrics
	limit   int
	minAge  time.Duration
	now     func() time.Time
}

func (j *withdrawalReconcileJob) Name() string { return "withdrawal-reconcile" }

func (j *withdrawalReconcileJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.minAge)
	candidates, err := j.repo.ListWithdrawalsForReconcile(ctx, cutoff, j.limit)
	if err != nil {
		return fmt.Errorf("list withdrawals for reconciliation: %w", err)
	}

	var errs error
	counts := map[coupons.ReconcileOutcome]int{}
	for _, w := range candidates {
		outcome, err := j.ledger.ReconcileWithdrawal(ctx, w)
		if err != nil {
			errs = multierr.Append(errs, err)
			j.metrics.IncReconciled("error")
			continue
		}
		counts[outcome]++
		j.metrics.IncReconciled(string(outcome))
	}

	if len(candidates) > 0 || errs != nil {
		reportCtx := j.logg.WithFields(ctx, map[string]any{
			"candidates": len(candidates),
			"completed":  counts[coupons.ReconcileCompleted],
			"failed":     counts[coupons.ReconcileFailed],
			"pending":    counts[coupons.ReconcilePending],
			"skipped":    counts[coupons.ReconcileSkipped],
			"errors":     len(multierr.Errors(errs)),
		})
		j.logg.Info(reportCtx, "withdrawal reconcile loop complete")
	}
	return errs
}
