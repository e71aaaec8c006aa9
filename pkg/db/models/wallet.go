package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Wallet holds a user's internal balances for one currency.
type Wallet struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID          uuid.UUID       `gorm:"column:owner_id;type:uuid;not null;uniqueIndex:idx_wallets_owner_currency"`
	Currency         string          `gorm:"column:currency;type:text;not null;uniqueIndex:idx_wallets_owner_currency"`
	AvailableBalance decimal.Decimal `gorm:"column:available_balance;type:numeric(38,18);not null"`
	EscrowBalance    decimal.Decimal `gorm:"column:escrow_balance;type:numeric(38,18);not null"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (w *Wallet) BeforeCreate(*gorm.DB) error {
	ensureID(&w.ID)
	return nil
}

// Total returns available plus escrow.
func (w Wallet) Total() decimal.Decimal {
	return w.AvailableBalance.Add(w.EscrowBalance)
}
