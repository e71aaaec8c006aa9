package deposits

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/loaderescrow-backend/pkg/db/models"
	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
	"github.com/angelmondragon/loaderescrow-backend/pkg/pagination"
)

// Repository persists deposit addresses, observed deposits, sweeps and the
// scanner checkpoint.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindActiveAddress(ctx context.Context, ownerID uuid.UUID, network string) (*models.DepositAddress, error)
	FindAddress(ctx context.Context, id uuid.UUID) (*models.DepositAddress, error)
	CreateAddress(ctx context.Context, addr *models.DepositAddress) error
	DeactivateAddress(ctx context.Context, id uuid.UUID, at time.Time) (int64, error)
	ListActiveAddresses(ctx context.Context, network string) ([]models.DepositAddress, error)

	FindDeposit(ctx context.Context, id uuid.UUID) (*models.BlockchainDeposit, error)
	FindDepositByTxHash(ctx context.Context, txHash string) (*models.BlockchainDeposit, error)
	CreateDeposit(ctx context.Context, deposit *models.BlockchainDeposit) error
	ListDepositsByStatus(ctx context.Context, statuses []enums.DepositStatus) ([]models.BlockchainDeposit, error)
	ListDepositsByOwner(ctx context.Context, ownerID uuid.UUID, params pagination.Params) ([]models.BlockchainDeposit, error)
	AdvanceConfirmations(ctx context.Context, id uuid.UUID, confirmations int, blockNumber uint64, status enums.DepositStatus, confirmedAt *time.Time) (int64, error)
	TransitionDeposit(ctx context.Context, id uuid.UUID, from, to enums.DepositStatus, fields map[string]any) (int64, error)
	UpdateDepositFields(ctx context.Context, id uuid.UUID, fields map[string]any) error

	CreateSweep(ctx context.Context, sweep *models.DepositSweep) error
	ListSweeps(ctx context.Context, depositID uuid.UUID) ([]models.DepositSweep, error)
	UpdateSweep(ctx context.Context, id uuid.UUID, from enums.SweepStatus, fields map[string]any) (int64, error)
	FailSubmittedSweeps(ctx context.Context, depositID uuid.UUID, reason string) (int64, error)

	GetCheckpoint(ctx context.Context, name string) (uint64, error)
	SaveCheckpoint(ctx context.Context, name string, block uint64) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the deposits repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindActiveAddress(ctx context.Context, ownerID uuid.UUID, network string) (*models.DepositAddress, error) {
	var addr models.DepositAddress
	if err := r.db.WithContext(ctx).
		Where("owner_id = ? AND network = ? AND active = ?", ownerID, network, true).
		Take(&addr).Error; err != nil {
		return nil, err
	}
	return &addr, nil
}

func (r *repository) FindAddress(ctx context.Context, id uuid.UUID) (*models.DepositAddress, error) {
	var addr models.DepositAddress
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&addr).Error; err != nil {
		return nil, err
	}
	return &addr, nil
}

func (r *repository) CreateAddress(ctx context.Context, addr *models.DepositAddress) error {
	return r.db.WithContext(ctx).Create(addr).Error
}

func (r *repository) DeactivateAddress(ctx context.Context, id uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DepositAddress{}).
		Where("id = ? AND active = ?", id, true).
		Updates(map[string]any{"active": false, "deactivated_at": at})
	return res.RowsAffected, res.Error
}

func (r *repository) ListActiveAddresses(ctx context.Context, network string) ([]models.DepositAddress, error) {
	var addrs []models.DepositAddress
	if err := r.db.WithContext(ctx).
		Where("network = ? AND active = ?", network, true).
		Order("created_at ASC").
		Find(&addrs).Error; err != nil {
		return nil, err
	}
	return addrs, nil
}

func (r *repository) FindDeposit(ctx context.Context, id uuid.UUID) (*models.BlockchainDeposit, error) {
	var deposit models.BlockchainDeposit
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&deposit).Error; err != nil {
		return nil, err
	}
	return &deposit, nil
}

// FindDepositByTxHash returns nil without error when the hash is unknown.
func (r *repository) FindDepositByTxHash(ctx context.Context, txHash string) (*models.BlockchainDeposit, error) {
	var deposit models.BlockchainDeposit
	err := r.db.WithContext(ctx).Where("tx_hash = ?", txHash).Take(&deposit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &deposit, nil
}

func (r *repository) CreateDeposit(ctx context.Context, deposit *models.BlockchainDeposit) error {
	return r.db.WithContext(ctx).Create(deposit).Error
}

func (r *repository) ListDepositsByStatus(ctx context.Context, statuses []enums.DepositStatus) ([]models.BlockchainDeposit, error) {
	var deposits []models.BlockchainDeposit
	if err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("block_number ASC").
		Order("log_index ASC").
		Find(&deposits).Error; err != nil {
		return nil, err
	}
	return deposits, nil
}

func (r *repository) ListDepositsByOwner(ctx context.Context, ownerID uuid.UUID, params pagination.Params) ([]models.BlockchainDeposit, error) {
	q, err := pagination.Apply(r.db.WithContext(ctx).Where("owner_id = ?", ownerID), params)
	if err != nil {
		return nil, err
	}
	var deposits []models.BlockchainDeposit
	if err := q.Find(&deposits).Error; err != nil {
		return nil, err
	}
	return deposits, nil
}

// AdvanceConfirmations only moves counts forward and only while the deposit
// still awaits confirmation.
func (r *repository) AdvanceConfirmations(ctx context.Context, id uuid.UUID, confirmations int, blockNumber uint64, status enums.DepositStatus, confirmedAt *time.Time) (int64, error) {
	fields := map[string]any{
		"confirmations": confirmations,
		"block_number":  blockNumber,
		"status":        status,
	}
	if confirmedAt != nil {
		fields["confirmed_at"] = *confirmedAt
	}
	res := r.db.WithContext(ctx).
		Model(&models.BlockchainDeposit{}).
		Where("id = ?", id).
		Where("status IN ?", []enums.DepositStatus{enums.DepositStatusPending, enums.DepositStatusConfirming}).
		Where("confirmations <= ?", confirmations).
		Updates(fields)
	return res.RowsAffected, res.Error
}

// TransitionDeposit is a compare-and-set on status. Zero rows means another
// pass already moved the deposit.
func (r *repository) TransitionDeposit(ctx context.Context, id uuid.UUID, from, to enums.DepositStatus, fields map[string]any) (int64, error) {
	updates := map[string]any{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.BlockchainDeposit{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) UpdateDepositFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.BlockchainDeposit{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repository) CreateSweep(ctx context.Context, sweep *models.DepositSweep) error {
	return r.db.WithContext(ctx).Create(sweep).Error
}

func (r *repository) ListSweeps(ctx context.Context, depositID uuid.UUID) ([]models.DepositSweep, error) {
	var sweeps []models.DepositSweep
	if err := r.db.WithContext(ctx).
		Where("deposit_id = ?", depositID).
		Order("created_at ASC").
		Find(&sweeps).Error; err != nil {
		return nil, err
	}
	return sweeps, nil
}

// UpdateSweep is a compare-and-set on the sweep status.
func (r *repository) UpdateSweep(ctx context.Context, id uuid.UUID, from enums.SweepStatus, fields map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DepositSweep{}).
		Where("id = ? AND status = ?", id, from).
		Updates(fields)
	return res.RowsAffected, res.Error
}

func (r *repository) FailSubmittedSweeps(ctx context.Context, depositID uuid.UUID, reason string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DepositSweep{}).
		Where("deposit_id = ? AND status = ?", depositID, enums.SweepStatusSubmitted).
		Updates(map[string]any{"status": enums.SweepStatusFailed, "error_message": reason})
	return res.RowsAffected, res.Error
}

// GetCheckpoint returns zero for a scanner that never completed a pass.
func (r *repository) GetCheckpoint(ctx context.Context, name string) (uint64, error) {
	var cp models.ScannerCheckpoint
	err := r.db.WithContext(ctx).Where("name = ?", name).Take(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cp.LastSuccessfulBlock, nil
}

func (r *repository) SaveCheckpoint(ctx context.Context, name string, block uint64) error {
	cp := models.ScannerCheckpoint{Name: name, LastSuccessfulBlock: block, UpdatedAt: time.Now().UTC()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_successful_block", "updated_at"}),
	}).Create(&cp).Error
}
