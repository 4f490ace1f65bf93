package coupons

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/solcoupons-backend/pkg/db/models"
)

// CreateInput carries the fields needed to issue a coupon.
type CreateInput struct {
	OwnerWallet string
	Label       string
	AmountSOL   decimal.Decimal
	ExpiresAt   *time.Time
}

// DepositInput records a credit that already happened on-chain.
type DepositInput struct {
	CouponID    string
	OwnerWallet string
	AmountSOL   decimal.Decimal
	TxSig       *string
}

// WithdrawInput moves SOL from the pool to Recipient and debits the coupon.
type WithdrawInput struct {
	CouponID    string
	OwnerWallet string
	AmountSOL   decimal.Decimal
	Recipient   string
}

// PayInput debits the coupon off-chain in favour of Merchant.
type PayInput struct {
	CouponID    string
	OwnerWallet string
	AmountSOL   decimal.Decimal
	Merchant    string
	Note        *string
}

// Result is the coupon state after an operation and the event it appended.
type Result struct {
	Coupon models.Coupon      `json:"coupon"`
	Event  models.CouponEvent `json:"event"`
}

// CouponWithEvents is a coupon annotated with its ordered history. ReservedSOL
// is the amount held by open withdrawals.
type CouponWithEvents struct {
	models.Coupon
	ReservedSOL  decimal.Decimal      `json:"reserved_sol"`
	AvailableSOL decimal.Decimal      `json:"available_sol"`
	Events       []models.CouponEvent `json:"events"`
}

// ReconcileOutcome names what happened to a withdrawal intent during reconciliation.
type ReconcileOutcome string

const (
	ReconcileCompleted ReconcileOutcome = "completed"
	ReconcileFailed    ReconcileOutcome = "failed"
	ReconcilePending   ReconcileOutcome = "pending"
	ReconcileSkipped   ReconcileOutcome = "skipped"
)
