package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/solcoupons-backend/pkg/enums"
)

// CouponEvent is an append-only record of one action on a coupon. ID grows
// monotonically and doubles as the insertion order.
type CouponEvent struct {
	ID           uint64                `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	CouponID     string                `gorm:"column:coupon_id;not null;index:coupon_events_coupon_owner_idx" json:"coupon_id"`
	OwnerWallet  string                `gorm:"column:owner_wallet;not null;index:coupon_events_coupon_owner_idx" json:"owner_wallet"`
	Type         enums.CouponEventType `gorm:"column:type;type:text;not null" json:"type"`
	AmountSOL    decimal.Decimal       `gorm:"column:amount_sol;type:numeric(20,9);not null" json:"amount_sol"`
	ToAddress    string                `gorm:"column:to_address;not null" json:"to_address"`
	Note         *string               `gorm:"column:note" json:"note"`
	TxSig        *string               `gorm:"column:tx_sig" json:"tx_sig"`
	WithdrawalID *string               `gorm:"column:withdrawal_id;uniqueIndex:coupon_events_withdrawal_id_key" json:"withdrawal_id,omitempty"`
	CreatedAt    time.Time             `gorm:"column:created_at;not null" json:"created_at"`
}

// SignedAmount returns the balance delta the event represents.
func (e CouponEvent) SignedAmount() decimal.Decimal {
	if e.Type.IsCredit() {
		return e.AmountSOL
	}
	return e.AmountSOL.Neg()
}
