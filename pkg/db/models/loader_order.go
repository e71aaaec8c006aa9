package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
)

// LoaderOrder is the two-party escrow deal created when a receiver accepts an ad.
type LoaderOrder struct {
	ID                   uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	AdID                 uuid.UUID               `gorm:"column:ad_id;type:uuid;not null;uniqueIndex"`
	LoaderID             uuid.UUID               `gorm:"column:loader_id;type:uuid;not null;index"`
	ReceiverID           uuid.UUID               `gorm:"column:receiver_id;type:uuid;not null;index"`
	DealAmount           decimal.Decimal         `gorm:"column:deal_amount;type:numeric(38,18);not null"`
	Currency             string                  `gorm:"column:currency;type:text;not null"`
	LoaderFrozenAmount   decimal.Decimal         `gorm:"column:loader_frozen_amount;type:numeric(38,18);not null"`
	ReceiverFrozenAmount decimal.Decimal         `gorm:"column:receiver_frozen_amount;type:numeric(38,18);not null"`
	ReceiverFunded       bool                    `gorm:"column:receiver_funded;not null"`
	Status               enums.LoaderOrderStatus `gorm:"column:status;type:loader_order_status;not null;index"`
	LiabilityType        *enums.LiabilityType    `gorm:"column:liability_type;type:liability_type"`
	LiabilityDeadline    *time.Time              `gorm:"column:liability_deadline;index"`
	ReceiverConfirmed    bool                    `gorm:"column:receiver_confirmed;not null"`
	LoaderConfirmed      bool                    `gorm:"column:loader_confirmed;not null"`
	PlatformFee          decimal.Decimal         `gorm:"column:platform_fee;type:numeric(38,18);not null"`
	ReceiverConfirmedAt  *time.Time              `gorm:"column:receiver_confirmed_at"`
	LoaderConfirmedAt    *time.Time              `gorm:"column:loader_confirmed_at"`
	FundsSentAt          *time.Time              `gorm:"column:funds_sent_at"`
	AssetFrozenAt        *time.Time              `gorm:"column:asset_frozen_at"`
	CompletedAt          *time.Time              `gorm:"column:completed_at"`
	ClosedAt             *time.Time              `gorm:"column:closed_at"`
	CancelledAt          *time.Time              `gorm:"column:cancelled_at"`
	CreatedAt            time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *LoaderOrder) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// IsParty reports whether userID is the loader or the receiver.
func (o LoaderOrder) IsParty(userID uuid.UUID) bool {
	return o.LoaderID == userID || o.ReceiverID == userID
}
