package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DepositAddress is a per-user custodial address. EncryptedKey never leaves
// the service layer.
type DepositAddress struct {
	ID            uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID       uuid.UUID  `gorm:"column:owner_id;type:uuid;not null;index"`
	Network       string     `gorm:"column:network;type:text;not null"`
	Address       string     `gorm:"column:address;type:text;not null;uniqueIndex"`
	EncryptedKey  string     `gorm:"column:encrypted_key;type:text;not null" json:"-"`
	Active        bool       `gorm:"column:active;not null"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
	DeactivatedAt *time.Time `gorm:"column:deactivated_at"`
}

func (d *DepositAddress) BeforeCreate(*gorm.DB) error {
	ensureID(&d.ID)
	return nil
}
