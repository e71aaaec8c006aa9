package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LoaderOrderMessage is an append-only chat line. System messages have no sender.
type LoaderOrderMessage struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID  `gorm:"column:order_id;type:uuid;not null;index"`
	SenderID  *uuid.UUID `gorm:"column:sender_id;type:uuid"`
	IsSystem  bool       `gorm:"column:is_system;not null"`
	Body      string     `gorm:"column:body;type:text;not null"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (m *LoaderOrderMessage) BeforeCreate(*gorm.DB) error {
	ensureID(&m.ID)
	return nil
}
