package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/loaderescrow-backend/pkg/db/models"
	"github.com/angelmondragon/loaderescrow-backend/pkg/pagination"
)

// Repository manages wallets and their immutable transaction log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindWallet(ctx context.Context, ownerID uuid.UUID, currency string) (*models.Wallet, error)
	FindWalletByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	CreateWalletIfMissing(ctx context.Context, wallet *models.Wallet) error
	AdjustBalances(ctx context.Context, walletID uuid.UUID, availableDelta, escrowDelta decimal.Decimal) (int64, error)
	CreateTransaction(ctx context.Context, entry *models.Transaction) error
	ListTransactions(ctx context.Context, ownerID uuid.UUID, params pagination.Params) ([]models.Transaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindWallet(ctx context.Context, ownerID uuid.UUID, currency string) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).
		Where("owner_id = ? AND currency = ?", ownerID, currency).
		Take(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) FindWalletByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

// CreateWalletIfMissing inserts wallet unless the owner already has one in
// that currency. Concurrent first uses converge on a single row.
func (r *repository) CreateWalletIfMissing(ctx context.Context, wallet *models.Wallet) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}, {Name: "currency"}},
			DoNothing: true,
		}).
		Create(wallet).Error
}

// AdjustBalances applies both deltas in one statement and only when neither
// balance would go negative. It reports the affected row count.
func (r *repository) AdjustBalances(ctx context.Context, walletID uuid.UUID, availableDelta, escrowDelta decimal.Decimal) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("id = ?", walletID).
		Where("available_balance + ? >= 0", availableDelta).
		Where("escrow_balance + ? >= 0", escrowDelta).
		Updates(map[string]any{
			"available_balance": gorm.Expr("available_balance + ?", availableDelta),
			"escrow_balance":    gorm.Expr("escrow_balance + ?", escrowDelta),
			"updated_at":        time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func (r *repository) CreateTransaction(ctx context.Context, entry *models.Transaction) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListTransactions(ctx context.Context, ownerID uuid.UUID, params pagination.Params) ([]models.Transaction, error) {
	q, err := pagination.Apply(r.db.WithContext(ctx).Where("owner_id = ?", ownerID), params)
	if err != nil {
		return nil, err
	}
	var entries []models.Transaction
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
