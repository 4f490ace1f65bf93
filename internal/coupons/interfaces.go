package coupons

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/solcoupons-backend/pkg/db/models"
)

// ErrWithdrawalNotFound is returned when a mutation names a withdrawal that is
// not attached to the coupon.
var ErrWithdrawalNotFound = errors.New("withdrawal not found for coupon")

// Repository is the persistent store for coupons, their events and withdrawal
// intents. Lookups return nil without error when nothing matches; owner ""
// on GetCoupon matches any owner.
type Repository interface {
	ListCouponsByOwner(ctx context.Context, owner string) ([]models.Coupon, error)
	GetCoupon(ctx context.Context, id, owner string) (*models.Coupon, error)
	CouponExists(ctx context.Context, id string) (bool, error)
	CreateCoupon(ctx context.Context, coupon *models.Coupon) (*models.Coupon, error)
	UpdateCoupon(ctx context.Context, id, owner string, mutate func(*models.Coupon)) (*models.Coupon, error)
	AddEvent(ctx context.Context, event *models.CouponEvent) (*models.CouponEvent, error)
	ListEventsForCoupon(ctx context.Context, couponID, owner string) ([]models.CouponEvent, error)

	// CreateWithEvent persists a new coupon and its create event as one unit.
	CreateWithEvent(ctx context.Context, coupon *models.Coupon, event *models.CouponEvent) error
	// Record applies m as one unit. It returns nil values when the coupon is absent.
	Record(ctx context.Context, m Mutation) (*models.Coupon, *models.CouponEvent, error)

	// ReserveWithdrawal stores the intent built from the locked coupon and its
	// open withdrawals. It returns nil when the coupon is absent.
	ReserveWithdrawal(ctx context.Context, couponID, owner string, build BuildWithdrawal) (*models.Withdrawal, error)
	UpdateWithdrawal(ctx context.Context, id string, mutate func(*models.Withdrawal) error) (*models.Withdrawal, error)
	GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error)
	ListWithdrawalsForCoupon(ctx context.Context, couponID, owner string) ([]models.Withdrawal, error)
	// ListWithdrawalsForReconcile returns open intents last updated before olderThan, oldest first.
	ListWithdrawalsForReconcile(ctx context.Context, olderThan time.Time, limit int) ([]models.Withdrawal, error)
}

// BuildWithdrawal returns the intent to store, or an error to abort.
type BuildWithdrawal func(coupon models.Coupon, open []models.Withdrawal) (*models.Withdrawal, error)

// Mutation is one atomic balance change. Apply receives the locked coupon and
// its open withdrawals (excluding WithdrawalID) and returns the event to
// append. When WithdrawalID is set, Settle runs against that intent first and
// the updated intent is persisted in the same unit. An error from Apply or
// Settle aborts the unit without writing anything.
type Mutation struct {
	CouponID     string
	OwnerWallet  string
	Apply        func(coupon *models.Coupon, open []models.Withdrawal) (*models.CouponEvent, error)
	WithdrawalID string
	Settle       func(withdrawal *models.Withdrawal) error
}
