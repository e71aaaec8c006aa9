package loaders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/loaderescrow-backend/pkg/db/models"
	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
	"github.com/angelmondragon/loaderescrow-backend/pkg/pagination"
)

// Repository persists ads, orders and order chat.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateAd(ctx context.Context, ad *models.LoaderAd) error
	FindAd(ctx context.Context, id uuid.UUID) (*models.LoaderAd, error)
	TransitionAd(ctx context.Context, id uuid.UUID, from, to enums.LoaderAdStatus, fields map[string]any) (int64, error)
	ListActiveAds(ctx context.Context, params pagination.Params) ([]models.LoaderAd, error)
	ListAdsByPoster(ctx context.Context, posterID uuid.UUID, params pagination.Params) ([]models.LoaderAd, error)

	CreateOrder(ctx context.Context, order *models.LoaderOrder) error
	FindOrder(ctx context.Context, id uuid.UUID) (*models.LoaderOrder, error)
	UpdateOrder(ctx context.Context, id uuid.UUID, status enums.LoaderOrderStatus, guard map[string]any, fields map[string]any) (int64, error)
	ListOrdersByParty(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.LoaderOrder, error)
	ListExpiredOrders(ctx context.Context, statuses []enums.LoaderOrderStatus, now time.Time) ([]models.LoaderOrder, error)

	CreateMessage(ctx context.Context, msg *models.LoaderOrderMessage) error
	ListMessages(ctx context.Context, orderID uuid.UUID) ([]models.LoaderOrderMessage, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the loaders repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateAd(ctx context.Context, ad *models.LoaderAd) error {
	return r.db.WithContext(ctx).Create(ad).Error
}

func (r *repository) FindAd(ctx context.Context, id uuid.UUID) (*models.LoaderAd, error) {
	var ad models.LoaderAd
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&ad).Error; err != nil {
		return nil, err
	}
	return &ad, nil
}

// TransitionAd is a compare-and-set on status.
func (r *repository) TransitionAd(ctx context.Context, id uuid.UUID, from, to enums.LoaderAdStatus, fields map[string]any) (int64, error) {
	updates := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.LoaderAd{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) ListActiveAds(ctx context.Context, params pagination.Params) ([]models.LoaderAd, error) {
	return r.listAds(ctx, r.db.WithContext(ctx).Where("status = ?", enums.LoaderAdStatusActive), params)
}

func (r *repository) ListAdsByPoster(ctx context.Context, posterID uuid.UUID, params pagination.Params) ([]models.LoaderAd, error) {
	return r.listAds(ctx, r.db.WithContext(ctx).Where("poster_id = ?", posterID), params)
}

func (r *repository) listAds(_ context.Context, base *gorm.DB, params pagination.Params) ([]models.LoaderAd, error) {
	q, err := pagination.Apply(base, params)
	if err != nil {
		return nil, err
	}
	var ads []models.LoaderAd
	if err := q.Find(&ads).Error; err != nil {
		return nil, err
	}
	return ads, nil
}

func (r *repository) CreateOrder(ctx context.Context, order *models.LoaderOrder) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindOrder(ctx context.Context, id uuid.UUID) (*models.LoaderOrder, error) {
	var order models.LoaderOrder
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrder applies fields only while the order is still in status and
// every guard column still holds its expected value.
func (r *repository) UpdateOrder(ctx context.Context, id uuid.UUID, status enums.LoaderOrderStatus, guard map[string]any, fields map[string]any) (int64, error) {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	for k, v := range fields {
		updates[k] = v
	}
	q := r.db.WithContext(ctx).
		Model(&models.LoaderOrder{}).
		Where("id = ? AND status = ?", id, status)
	for column, value := range guard {
		if value == nil {
			q = q.Where(column + " IS NULL")
			continue
		}
		q = q.Where(column+" = ?", value)
	}
	res := q.Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) ListOrdersByParty(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.LoaderOrder, error) {
	q, err := pagination.Apply(r.db.WithContext(ctx).Where("loader_id = ? OR receiver_id = ?", userID, userID), params)
	if err != nil {
		return nil, err
	}
	var orders []models.LoaderOrder
	if err := q.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) ListExpiredOrders(ctx context.Context, statuses []enums.LoaderOrderStatus, now time.Time) ([]models.LoaderOrder, error) {
	var orders []models.LoaderOrder
	if err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Where("liability_deadline IS NOT NULL AND liability_deadline <= ?", now).
		Order("liability_deadline ASC").
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) CreateMessage(ctx context.Context, msg *models.LoaderOrderMessage) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *repository) ListMessages(ctx context.Context, orderID uuid.UUID) ([]models.LoaderOrderMessage, error) {
	var msgs []models.LoaderOrderMessage
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}
