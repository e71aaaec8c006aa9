package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
)

// LoaderAd is a posted loading offer. An active ad always has its
// FrozenCommitment held in the poster's escrow balance.
type LoaderAd struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	PosterID          uuid.UUID            `gorm:"column:poster_id;type:uuid;not null;index"`
	AssetType         string               `gorm:"column:asset_type;type:text;not null"`
	DealAmount        decimal.Decimal      `gorm:"column:deal_amount;type:numeric(38,18);not null"`
	FrozenCommitment  decimal.Decimal      `gorm:"column:frozen_commitment;type:numeric(38,18);not null"`
	Currency          string               `gorm:"column:currency;type:text;not null"`
	PaymentMethods    []string             `gorm:"column:payment_methods;type:jsonb;serializer:json;not null"`
	LoadingTerms      *string              `gorm:"column:loading_terms;type:text"`
	UpfrontPercentage int                  `gorm:"column:upfront_percentage;not null"`
	Status            enums.LoaderAdStatus `gorm:"column:status;type:loader_ad_status;not null;index"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time            `gorm:"column:updated_at;autoUpdateTime"`
	CancelledAt       *time.Time           `gorm:"column:cancelled_at"`
}

func (a *LoaderAd) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	return nil
}

// IsActive reports whether the ad can still be accepted.
func (a LoaderAd) IsActive() bool {
	return a.Status == enums.LoaderAdStatusActive
}
