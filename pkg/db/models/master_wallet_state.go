package models

import (
	"time"

	"github.com/google/uuid"
)

// MasterWalletStateID is the primary key of the singleton state row.
const MasterWalletStateID = 1

// MasterWalletState records whether an operator unlocked the treasury signer.
// It never stores key material.
type MasterWalletState struct {
	ID         int        `gorm:"column:id;primaryKey;autoIncrement:false"`
	Address    string     `gorm:"column:address;type:text;not null"`
	Unlocked   bool       `gorm:"column:unlocked;not null"`
	UnlockedBy *uuid.UUID `gorm:"column:unlocked_by;type:uuid"`
	UnlockedAt *time.Time `gorm:"column:unlocked_at"`
	LockedAt   *time.Time `gorm:"column:locked_at"`
	LastError  *string    `gorm:"column:last_error;type:text"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (MasterWalletState) TableName() string {
	return "master_wallet_state"
}
