package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
)

// BlockchainDeposit is a token transfer observed on chain towards a deposit address.
type BlockchainDeposit struct {
	ID                    uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID               uuid.UUID           `gorm:"column:owner_id;type:uuid;not null;index"`
	DepositAddressID      uuid.UUID           `gorm:"column:deposit_address_id;type:uuid;not null;index"`
	TxHash                string              `gorm:"column:tx_hash;type:text;not null;uniqueIndex"`
	LogIndex              uint                `gorm:"column:log_index;not null"`
	FromAddress           string              `gorm:"column:from_address;type:text;not null"`
	ToAddress             string              `gorm:"column:to_address;type:text;not null"`
	Amount                decimal.Decimal     `gorm:"column:amount;type:numeric(38,18);not null"`
	TokenContract         string              `gorm:"column:token_contract;type:text;not null"`
	Network               string              `gorm:"column:network;type:text;not null"`
	BlockNumber           uint64              `gorm:"column:block_number;not null"`
	Confirmations         int                 `gorm:"column:confirmations;not null"`
	RequiredConfirmations int                 `gorm:"column:required_confirmations;not null"`
	Status                enums.DepositStatus `gorm:"column:status;type:deposit_status;not null;index"`
	SweepAttempts         int                 `gorm:"column:sweep_attempts;not null"`
	DetectedAt            time.Time           `gorm:"column:detected_at;not null"`
	ConfirmedAt           *time.Time          `gorm:"column:confirmed_at"`
	CreditedAt            *time.Time          `gorm:"column:credited_at"`
	CreditedTransactionID *uuid.UUID          `gorm:"column:credited_transaction_id;type:uuid"`
	SweptAt               *time.Time          `gorm:"column:swept_at"`
	CreatedAt             time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (d *BlockchainDeposit) BeforeCreate(*gorm.DB) error {
	ensureID(&d.ID)
	return nil
}
