package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateDeposit      OutboxAggregateType = "deposit"
	AggregateLoaderOrder  OutboxAggregateType = "loader_order"
	AggregateLoaderAd     OutboxAggregateType = "loader_ad"
	AggregateWithdrawal   OutboxAggregateType = "withdrawal"
	AggregateMasterWallet OutboxAggregateType = "master_wallet"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateDeposit,
	AggregateLoaderOrder,
	AggregateLoaderAd,
	AggregateWithdrawal,
	AggregateMasterWallet,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventDepositCredited         OutboxEventType = "deposit_credited"
	EventDepositSwept            OutboxEventType = "deposit_swept"
	EventDepositSweepFailed      OutboxEventType = "deposit_sweep_failed"
	EventDepositSweepExhausted   OutboxEventType = "deposit_sweep_exhausted"
	EventLoaderAdPosted          OutboxEventType = "loader_ad_posted"
	EventLoaderAdCancelled       OutboxEventType = "loader_ad_cancelled"
	EventLoaderOrderStateChanged OutboxEventType = "loader_order_state_changed"
	EventWithdrawalCompleted     OutboxEventType = "withdrawal_completed"
	EventWithdrawalFailed        OutboxEventType = "withdrawal_failed"
	EventWithdrawalUnconfirmed   OutboxEventType = "withdrawal_unconfirmed"
	EventMasterWalletLocked      OutboxEventType = "master_wallet_locked"
	EventMasterWalletUnlocked    OutboxEventType = "master_wallet_unlocked"
)

var validOutboxEventTypes = []OutboxEventType{
	EventDepositCredited,
	EventDepositSwept,
	EventDepositSweepFailed,
	EventDepositSweepExhausted,
	EventLoaderAdPosted,
	EventLoaderAdCancelled,
	EventLoaderOrderStateChanged,
	EventWithdrawalCompleted,
	EventWithdrawalFailed,
	EventWithdrawalUnconfirmed,
	EventMasterWalletLocked,
	EventMasterWalletUnlocked,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// alertEventTypes mark money whose on-chain outcome or custody needs an
// operator: an unconfirmed or failed payout, an abandoned sweep, a locked
// treasury.
var alertEventTypes = []OutboxEventType{
	EventWithdrawalUnconfirmed,
	EventWithdrawalFailed,
	EventDepositSweepExhausted,
	EventMasterWalletLocked,
}

// IsAlert reports whether the event needs operator attention.
func (e OutboxEventType) IsAlert() bool {
	for _, candidate := range alertEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// AlertEventTypes returns a copy of the alert event set.
func AlertEventTypes() []OutboxEventType {
	out := make([]OutboxEventType, len(alertEventTypes))
	copy(out, alertEventTypes)
	return out
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxDLQErrorReason records why a row left the publish loop.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
