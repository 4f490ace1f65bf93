package enums

import "fmt"

// CouponEventType enumerates the balance-affecting actions recorded per coupon.
type CouponEventType string

const (
	CouponEventTypeCreate   CouponEventType = "create"
	CouponEventTypeDeposit  CouponEventType = "deposit"
	CouponEventTypeWithdraw CouponEventType = "withdraw"
	CouponEventTypePay      CouponEventType = "pay"
)

var validCouponEventTypes = []CouponEventType{
	CouponEventTypeCreate,
	CouponEventTypeDeposit,
	CouponEventTypeWithdraw,
	CouponEventTypePay,
}

// IsValid reports whether the value matches a known coupon event type.
func (t CouponEventType) IsValid() bool {
	for _, candidate := range validCouponEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsCredit reports whether the event adds to the coupon balance.
func (t CouponEventType) IsCredit() bool {
	return t == CouponEventTypeCreate || t == CouponEventTypeDeposit
}

// ParseCouponEventType converts raw input into CouponEventType.
func ParseCouponEventType(value string) (CouponEventType, error) {
	for _, candidate := range validCouponEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid coupon event type %q", value)
}

func (t *CouponEventType) UnmarshalText(text []byte) error {
	parsed, err := ParseCouponEventType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
