package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/solcoupons-backend/pkg/enums"
)

// Withdrawal is the durable intent written before an on-chain transfer is
// submitted. While open it reserves AmountSOL on the coupon.
type Withdrawal struct {
	ID            string                 `gorm:"column:id;primaryKey" json:"id"`
	CouponID      string                 `gorm:"column:coupon_id;not null;index:withdrawals_coupon_id_idx" json:"coupon_id"`
	OwnerWallet   string                 `gorm:"column:owner_wallet;not null" json:"owner_wallet"`
	Recipient     string                 `gorm:"column:recipient;not null" json:"recipient"`
	AmountSOL     decimal.Decimal        `gorm:"column:amount_sol;type:numeric(20,9);not null" json:"amount_sol"`
	Status        enums.WithdrawalStatus `gorm:"column:status;type:text;not null;index:withdrawals_status_idx" json:"status"`
	TxSig         *string                `gorm:"column:tx_sig" json:"tx_sig"`
	FailureReason *string                `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     time.Time              `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt     time.Time              `gorm:"column:updated_at;not null" json:"updated_at"`
	ResolvedAt    *time.Time             `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
}
