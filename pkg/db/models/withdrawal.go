package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
)

// Withdrawal is an administrative payout from the treasury on behalf of a user.
type Withdrawal struct {
	ID                    uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID               uuid.UUID              `gorm:"column:owner_id;type:uuid;not null;index"`
	RequestedBy           uuid.UUID              `gorm:"column:requested_by;type:uuid;not null"`
	ToAddress             string                 `gorm:"column:to_address;type:text;not null"`
	Amount                decimal.Decimal        `gorm:"column:amount;type:numeric(38,18);not null"`
	Currency              string                 `gorm:"column:currency;type:text;not null"`
	Status                enums.WithdrawalStatus `gorm:"column:status;type:withdrawal_status;not null"`
	TxHash                *string                `gorm:"column:tx_hash;type:text"`
	FailureReason         *string                `gorm:"column:failure_reason;type:text"`
	DebitTransactionID    *uuid.UUID             `gorm:"column:debit_transaction_id;type:uuid"`
	ReversalTransactionID *uuid.UUID             `gorm:"column:reversal_transaction_id;type:uuid"`
	CreatedAt             time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time              `gorm:"column:updated_at;autoUpdateTime"`
	CompletedAt           *time.Time             `gorm:"column:completed_at"`
}

func (w *Withdrawal) BeforeCreate(*gorm.DB) error {
	ensureID(&w.ID)
	return nil
}
