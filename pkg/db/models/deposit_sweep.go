package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
)

// DepositSweep is one attempt to consolidate a deposit into the treasury.
type DepositSweep struct {
	ID           uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	DepositID    uuid.UUID         `gorm:"column:deposit_id;type:uuid;not null;index"`
	FromAddress  string            `gorm:"column:from_address;type:text;not null"`
	ToAddress    string            `gorm:"column:to_address;type:text;not null"`
	Amount       decimal.Decimal   `gorm:"column:amount;type:numeric(38,18);not null"`
	Status       enums.SweepStatus `gorm:"column:status;type:sweep_status;not null"`
	TxHash       *string           `gorm:"column:tx_hash;type:text"`
	ErrorMessage *string           `gorm:"column:error_message;type:text"`
	CreatedAt    time.Time         `gorm:"column:created_at;autoCreateTime"`
	CompletedAt  *time.Time        `gorm:"column:completed_at"`
}

func (s *DepositSweep) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}
