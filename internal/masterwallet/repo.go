package masterwallet

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/loaderescrow-backend/pkg/db/models"
)

// StateRepository persists the lock flag and its audit fields.
type StateRepository interface {
	WithTx(tx *gorm.DB) StateRepository
	Load(ctx context.Context) (*models.MasterWalletState, error)
	Save(ctx context.Context, state *models.MasterWalletState) error
}

type stateRepository struct {
	db *gorm.DB
}

func NewStateRepository(db *gorm.DB) StateRepository {
	return &stateRepository{db: db}
}

func (r *stateRepository) WithTx(tx *gorm.DB) StateRepository {
	if tx == nil {
		return r
	}
	return &stateRepository{db: tx}
}

// Load returns nil when the wallet was never unlocked.
func (r *stateRepository) Load(ctx context.Context) (*models.MasterWalletState, error) {
	var state models.MasterWalletState
	err := r.db.WithContext(ctx).Where("id = ?", models.MasterWalletStateID).Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *stateRepository) Save(ctx context.Context, state *models.MasterWalletState) error {
	state.ID = models.MasterWalletStateID
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"address",
			"unlocked",
			"unlocked_by",
			"unlocked_at",
			"locked_at",
			"last_error",
			"updated_at",
		}),
	}).Create(state).Error
}
