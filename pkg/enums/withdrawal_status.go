package enums

import "fmt"

// WithdrawalStatus tracks an administrative payout from the treasury.
type WithdrawalStatus string

const (
	WithdrawalStatusPending     WithdrawalStatus = "pending"
	WithdrawalStatusCompleted   WithdrawalStatus = "completed"
	WithdrawalStatusFailed      WithdrawalStatus = "failed"
	WithdrawalStatusUnconfirmed WithdrawalStatus = "unconfirmed"
)

var validWithdrawalStatuses = []WithdrawalStatus{
	WithdrawalStatusPending,
	WithdrawalStatusCompleted,
	WithdrawalStatusFailed,
	WithdrawalStatusUnconfirmed,
}

func (s WithdrawalStatus) String() string {
	return string(s)
}

func (s WithdrawalStatus) IsValid() bool {
	for _, candidate := range validWithdrawalStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseWithdrawalStatus(value string) (WithdrawalStatus, error) {
	for _, candidate := range validWithdrawalStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid withdrawal status %q", value)
}
