package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
)

// DepositCreditedEvent is emitted once a confirmed deposit reaches the ledger.
type DepositCreditedEvent struct {
	DepositID     uuid.UUID       `json:"deposit_id"`
	OwnerID       uuid.UUID       `json:"owner_id"`
	TxHash        string          `json:"tx_hash"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	CreditedAt    time.Time       `json:"credited_at"`
}

// DepositSweepEvent reports the outcome of a sweep attempt.
type DepositSweepEvent struct {
	DepositID   uuid.UUID       `json:"deposit_id"`
	SweepID     uuid.UUID       `json:"sweep_id"`
	FromAddress string          `json:"from_address"`
	ToAddress   string          `json:"to_address"`
	Amount      decimal.Decimal `json:"amount"`
	TxHash      string          `json:"tx_hash,omitempty"`
	Attempts    int             `json:"attempts"`
	Error       string          `json:"error,omitempty"`
}

// LoaderAdEvent covers ad posting and cancellation.
type LoaderAdEvent struct {
	AdID             uuid.UUID            `json:"ad_id"`
	PosterID         uuid.UUID            `json:"poster_id"`
	DealAmount       decimal.Decimal      `json:"deal_amount"`
	FrozenCommitment decimal.Decimal      `json:"frozen_commitment"`
	Status           enums.LoaderAdStatus `json:"status"`
}

// LoaderOrderStateChangedEvent is emitted on every order transition.
type LoaderOrderStateChangedEvent struct {
	OrderID    uuid.UUID               `json:"order_id"`
	AdID       uuid.UUID               `json:"ad_id"`
	LoaderID   uuid.UUID               `json:"loader_id"`
	ReceiverID uuid.UUID               `json:"receiver_id"`
	From       enums.LoaderOrderStatus `json:"from,omitempty"`
	To         enums.LoaderOrderStatus `json:"to"`
	Action     string                  `json:"action"`
}

// WithdrawalEvent reports the terminal state of an administrative payout.
type WithdrawalEvent struct {
	WithdrawalID uuid.UUID              `json:"withdrawal_id"`
	OwnerID      uuid.UUID              `json:"owner_id"`
	ToAddress    string                 `json:"to_address"`
	Amount       decimal.Decimal        `json:"amount"`
	Status       enums.WithdrawalStatus `json:"status"`
	TxHash       string                 `json:"tx_hash,omitempty"`
	Reason       string                 `json:"reason,omitempty"`
}

// MasterWalletEvent audits lock state changes. It never carries key material.
type MasterWalletEvent struct {
	Address  string    `json:"address"`
	Unlocked bool      `json:"unlocked"`
	ActorID  uuid.UUID `json:"actor_id"`
}
