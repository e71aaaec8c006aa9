package withdrawals

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/loaderescrow-backend/pkg/db/models"
	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
	"github.com/angelmondragon/loaderescrow-backend/pkg/pagination"
)

// Repository persists withdrawal records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, w *models.Withdrawal) error
	Find(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error)
	Transition(ctx context.Context, id uuid.UUID, from, to enums.WithdrawalStatus, fields map[string]any) (int64, error)
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error
	ListByOwner(ctx context.Context, ownerID uuid.UUID, params pagination.Params) ([]models.Withdrawal, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the withdrawals repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, w *models.Withdrawal) error {
	return r.db.WithContext(ctx).Create(w).Error
}

func (r *repository) Find(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, from, to enums.WithdrawalStatus, fields map[string]any) (int64, error) {
	updates := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Withdrawal{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Withdrawal{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repository) ListByOwner(ctx context.Context, ownerID uuid.UUID, params pagination.Params) ([]models.Withdrawal, error) {
	q, err := pagination.Apply(r.db.WithContext(ctx).Where("owner_id = ?", ownerID), params)
	if err != nil {
		return nil, err
	}
	var out []models.Withdrawal
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
