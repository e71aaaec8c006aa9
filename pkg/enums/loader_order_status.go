package enums

import "fmt"

// LoaderOrderStatus tracks the escrow lifecycle of a loader deal.
type LoaderOrderStatus string

const (
	LoaderOrderStatusCreated                       LoaderOrderStatus = "created"
	LoaderOrderStatusAwaitingLiabilityConfirmation LoaderOrderStatus = "awaiting_liability_confirmation"
	LoaderOrderStatusFundsSentByLoader             LoaderOrderStatus = "funds_sent_by_loader"
	LoaderOrderStatusAssetFrozenWaiting            LoaderOrderStatus = "asset_frozen_waiting"
	LoaderOrderStatusCompleted                     LoaderOrderStatus = "completed"
	LoaderOrderStatusClosedNoPayment               LoaderOrderStatus = "closed_no_payment"
	LoaderOrderStatusCancelled                     LoaderOrderStatus = "cancelled"
)

var validLoaderOrderStatuses = []LoaderOrderStatus{
	LoaderOrderStatusCreated,
	LoaderOrderStatusAwaitingLiabilityConfirmation,
	LoaderOrderStatusFundsSentByLoader,
	LoaderOrderStatusAssetFrozenWaiting,
	LoaderOrderStatusCompleted,
	LoaderOrderStatusClosedNoPayment,
	LoaderOrderStatusCancelled,
}

var loaderOrderTransitions = map[LoaderOrderStatus][]LoaderOrderStatus{
	LoaderOrderStatusCreated: {
		LoaderOrderStatusAwaitingLiabilityConfirmation,
		LoaderOrderStatusCancelled,
	},
	LoaderOrderStatusAwaitingLiabilityConfirmation: {
		LoaderOrderStatusFundsSentByLoader,
		LoaderOrderStatusClosedNoPayment,
	},
	LoaderOrderStatusFundsSentByLoader: {
		LoaderOrderStatusAssetFrozenWaiting,
		LoaderOrderStatusCompleted,
		LoaderOrderStatusClosedNoPayment,
	},
	LoaderOrderStatusAssetFrozenWaiting: {
		LoaderOrderStatusCompleted,
		LoaderOrderStatusClosedNoPayment,
	},
}

// String implements fmt.Stringer.
func (s LoaderOrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known LoaderOrderStatus.
func (s LoaderOrderStatus) IsValid() bool {
	for _, candidate := range validLoaderOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s LoaderOrderStatus) IsTerminal() bool {
	return s.IsValid() && len(loaderOrderTransitions[s]) == 0
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s LoaderOrderStatus) CanTransitionTo(next LoaderOrderStatus) bool {
	for _, candidate := range loaderOrderTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseLoaderOrderStatus converts raw input into a LoaderOrderStatus.
func ParseLoaderOrderStatus(value string) (LoaderOrderStatus, error) {
	for _, candidate := range validLoaderOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid loader order status %q", value)
}
