package enums

import "fmt"

// DepositStatus tracks an observed on-chain transfer from discovery to sweep.
type DepositStatus string

const (
	DepositStatusPending      DepositStatus = "pending"
	DepositStatusConfirming   DepositStatus = "confirming"
	DepositStatusConfirmed    DepositStatus = "confirmed"
	DepositStatusCredited     DepositStatus = "credited"
	DepositStatusSweepPending DepositStatus = "sweep_pending"
	DepositStatusSwept        DepositStatus = "swept"
)

var validDepositStatuses = []DepositStatus{
	DepositStatusPending,
	DepositStatusConfirming,
	DepositStatusConfirmed,
	DepositStatusCredited,
	DepositStatusSweepPending,
	DepositStatusSwept,
}

// depositTransitions lists every allowed status change. sweep_pending may
// fall back to credited when a sweep attempt fails.
var depositTransitions = map[DepositStatus][]DepositStatus{
	DepositStatusPending:      {DepositStatusConfirming, DepositStatusConfirmed},
	DepositStatusConfirming:   {DepositStatusConfirmed},
	DepositStatusConfirmed:    {DepositStatusCredited},
	DepositStatusCredited:     {DepositStatusSweepPending},
	DepositStatusSweepPending: {DepositStatusSwept, DepositStatusCredited},
}

// String implements fmt.Stringer.
func (s DepositStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known DepositStatus.
func (s DepositStatus) IsValid() bool {
	for _, candidate := range validDepositStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s DepositStatus) CanTransitionTo(next DepositStatus) bool {
	for _, candidate := range depositTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// AwaitingConfirmation reports whether the deposit still needs confirmation tracking.
func (s DepositStatus) AwaitingConfirmation() bool {
	return s == DepositStatusPending || s == DepositStatusConfirming
}

// IsCredited reports whether the deposit value already reached the ledger.
func (s DepositStatus) IsCredited() bool {
	switch s {
	case DepositStatusCredited, DepositStatusSweepPending, DepositStatusSwept:
		return true
	}
	return false
}

// ParseDepositStatus converts raw input into a DepositStatus.
func ParseDepositStatus(value string) (DepositStatus, error) {
	for _, candidate := range validDepositStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid deposit status %q", value)
}
