package models

import (
	"time"

	"github.com/google/uuid"
)

// PlatformWalletControlsID is the primary key of the singleton controls row.
const PlatformWalletControlsID = 1

// PlatformWalletControls holds the runtime kill-switches for money movement.
type PlatformWalletControls struct {
	ID                    int        `gorm:"column:id;primaryKey;autoIncrement:false"`
	DepositsEnabled       bool       `gorm:"column:deposits_enabled;not null"`
	WithdrawalsEnabled    bool       `gorm:"column:withdrawals_enabled;not null"`
	SweepsEnabled         bool       `gorm:"column:sweeps_enabled;not null"`
	EmergencyMode         bool       `gorm:"column:emergency_mode;not null"`
	RequiredConfirmations int        `gorm:"column:required_confirmations;not null"`
	UpdatedBy             *uuid.UUID `gorm:"column:updated_by;type:uuid"`
	UpdatedAt             time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (PlatformWalletControls) TableName() string {
	return "platform_wallet_controls"
}
