package controls

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/loaderescrow-backend/pkg/db/models"
)

// Repository persists the singleton controls row.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Find(ctx context.Context) (*models.PlatformWalletControls, error)
	Save(ctx context.Context, row *models.PlatformWalletControls) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the controls repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Find returns nil without error when the row was never written.
func (r *repository) Find(ctx context.Context) (*models.PlatformWalletControls, error) {
	var row models.PlatformWalletControls
	err := r.db.WithContext(ctx).Where("id = ?", models.PlatformWalletControlsID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) Save(ctx context.Context, row *models.PlatformWalletControls) error {
	row.ID = models.PlatformWalletControlsID
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"deposits_enabled",
			"withdrawals_enabled",
			"sweeps_enabled",
			"emergency_mode",
			"required_confirmations",
			"updated_by",
			"updated_at",
		}),
	}).Create(row).Error
}
