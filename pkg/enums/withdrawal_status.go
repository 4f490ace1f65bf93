package enums

import "fmt"

// WithdrawalStatus tracks an on-chain withdrawal intent.
//
//	pending -> submitted -> completed
//	pending|submitted -> failed
type WithdrawalStatus string

const (
	WithdrawalStatusPending   WithdrawalStatus = "pending"
	WithdrawalStatusSubmitted WithdrawalStatus = "submitted"
	WithdrawalStatusCompleted WithdrawalStatus = "completed"
	WithdrawalStatusFailed    WithdrawalStatus = "failed"
)

var validWithdrawalStatuses = []WithdrawalStatus{
	WithdrawalStatusPending,
	WithdrawalStatusSubmitted,
	WithdrawalStatusCompleted,
	WithdrawalStatusFailed,
}

// OpenWithdrawalStatuses are the states whose amount is still reserved.
var OpenWithdrawalStatuses = []WithdrawalStatus{
	WithdrawalStatusPending,
	WithdrawalStatusSubmitted,
}

func (s WithdrawalStatus) IsValid() bool {
	for _, candidate := range validWithdrawalStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsOpen reports whether the withdrawal has not reached a terminal state.
func (s WithdrawalStatus) IsOpen() bool {
	return s == WithdrawalStatusPending || s == WithdrawalStatusSubmitted
}

func ParseWithdrawalStatus(value string) (WithdrawalStatus, error) {
	for _, candidate := range validWithdrawalStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid withdrawal status %q", value)
}

// UnmarshalText rejects unknown statuses so a bad stored record fails to load
// instead of surfacing as a withdrawal that is neither open nor terminal.
func (s *WithdrawalStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseWithdrawalStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
