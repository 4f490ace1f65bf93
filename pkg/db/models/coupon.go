package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Coupon is an owner-scoped prepaid SOL balance.
type Coupon struct {
	ID                 string          `gorm:"column:id;primaryKey" json:"id"`
	Label              string          `gorm:"column:label;not null" json:"label"`
	OwnerWallet        string          `gorm:"column:owner_wallet;not null;index:coupons_owner_wallet_idx" json:"owner_wallet"`
	InitialAmountSOL   decimal.Decimal `gorm:"column:initial_amount_sol;type:numeric(20,9);not null" json:"initial_amount_sol"`
	RemainingAmountSOL decimal.Decimal `gorm:"column:remaining_amount_sol;type:numeric(20,9);not null" json:"remaining_amount_sol"`
	ExpiresAt          *time.Time      `gorm:"column:expires_at" json:"expires_at"`
	PoolAddress        string          `gorm:"column:pool_address;not null" json:"pool_address"`
	CreatedAt          time.Time       `gorm:"column:created_at;not null" json:"created_at"`
}
