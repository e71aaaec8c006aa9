package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
)

// Transaction is an immutable ledger entry written with every balance mutation.
type Transaction struct {
	ID                    uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID               uuid.UUID             `gorm:"column:owner_id;type:uuid;not null;index"`
	WalletID              uuid.UUID             `gorm:"column:wallet_id;type:uuid;not null;index"`
	Type                  enums.TransactionType `gorm:"column:type;type:transaction_type;not null"`
	Amount                decimal.Decimal       `gorm:"column:amount;type:numeric(38,18);not null"`
	Currency              string                `gorm:"column:currency;type:text;not null"`
	Description           string                `gorm:"column:description;type:text;not null"`
	ReferenceType         *string               `gorm:"column:reference_type;type:text"`
	ReferenceID           *uuid.UUID            `gorm:"column:reference_id;type:uuid"`
	AvailableBalanceAfter decimal.Decimal       `gorm:"column:available_balance_after;type:numeric(38,18);not null"`
	EscrowBalanceAfter    decimal.Decimal       `gorm:"column:escrow_balance_after;type:numeric(38,18);not null"`
	CreatedAt             time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (t *Transaction) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}
