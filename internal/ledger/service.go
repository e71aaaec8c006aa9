package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/loaderescrow-backend/pkg/db/models"
	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/loaderescrow-backend/pkg/errors"
	"github.com/angelmondragon/loaderescrow-backend/pkg/pagination"
)

// ErrInsufficientBalance is returned when a mutation would drive either
// balance below zero. No row is changed in that case.
var ErrInsufficientBalance = errors.New("insufficient balance")

// ErrNoFeeWallet is returned when a fee is charged but no platform fee
// wallet was configured to receive it.
var ErrNoFeeWallet = errors.New("platform fee wallet not configured")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Reference links a ledger entry to the business record that caused it.
type Reference struct {
	Type string
	ID   uuid.UUID
}

// Mutation is a signed change to both balances of one wallet, recorded as a
// single transaction of Amount.
type Mutation struct {
	OwnerID        uuid.UUID
	AvailableDelta decimal.Decimal
	EscrowDelta    decimal.Decimal
	Type           enums.TransactionType
	Amount         decimal.Decimal
	Description    string
	Reference      *Reference
}

// Entry is the unsigned input of the convenience helpers.
type Entry struct {
	OwnerID     uuid.UUID
	Amount      decimal.Decimal
	Type        enums.TransactionType
	Description string
	Reference   *Reference
}

// Service moves value between the available and escrow balances.
// Every method taking tx joins the caller's transaction when tx is non-nil.
type Service interface {
	EnsureWallet(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) (*models.Wallet, error)
	Apply(ctx context.Context, tx *gorm.DB, m Mutation) (*models.Transaction, error)
	Credit(ctx context.Context, tx *gorm.DB, e Entry) (*models.Transaction, error)
	Debit(ctx context.Context, tx *gorm.DB, e Entry) (*models.Transaction, error)
	Freeze(ctx context.Context, tx *gorm.DB, e Entry) (*models.Transaction, error)
	Release(ctx context.Context, tx *gorm.DB, e Entry) (*models.Transaction, error)
	ReleaseWithFee(ctx context.Context, tx *gorm.DB, e Entry, fee decimal.Decimal) ([]models.Transaction, error)
	GetWallet(ctx context.Context, ownerID uuid.UUID) (*models.Wallet, error)
	ListTransactions(ctx context.Context, ownerID uuid.UUID, params pagination.Params) (pagination.Page[models.Transaction], error)
}

type service struct {
	repo     Repository
	tx       txRunner
	currency string
	feeOwner uuid.UUID
}

// Option customises the ledger service.
type Option func(*service)

// WithFeeWallet names the owner whose wallet receives released platform fees.
func WithFeeWallet(ownerID uuid.UUID) Option {
	return func(s *service) { s.feeOwner = ownerID }
}

// NewService wires the ledger for a single currency.
func NewService(repo Repository, tx txRunner, currency string, opts ...Option) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return nil, fmt.Errorf("ledger currency required")
	}
	svc := &service{repo: repo, tx: tx, currency: currency}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func (s *service) EnsureWallet(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) (*models.Wallet, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id required")
	}
	repo := s.repo.WithTx(tx)
	wallet, err := repo.FindWallet(ctx, ownerID, s.currency)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}

	fresh := &models.Wallet{
		OwnerID:          ownerID,
		Currency:         s.currency,
		AvailableBalance: decimal.Zero,
		EscrowBalance:    decimal.Zero,
	}
	if err := repo.CreateWalletIfMissing(ctx, fresh); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create wallet")
	}
	wallet, err = repo.FindWallet(ctx, ownerID, s.currency)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload wallet")
	}
	return wallet, nil
}

func (s *service) Apply(ctx context.Context, tx *gorm.DB, m Mutation) (*models.Transaction, error) {
	if err := validateMutation(m); err != nil {
		return nil, err
	}
	if tx != nil {
		return s.apply(ctx, tx, m)
	}

	var entry *models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		entry, err = s.apply(ctx, tx, m)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) apply(ctx context.Context, tx *gorm.DB, m Mutation) (*models.Transaction, error) {
	wallet, err := s.EnsureWallet(ctx, tx, m.OwnerID)
	if err != nil {
		return nil, err
	}

	repo := s.repo.WithTx(tx)
	affected, err := repo.AdjustBalances(ctx, wallet.ID, m.AvailableDelta, m.EscrowDelta)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update wallet balances")
	}
	if affected == 0 {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInsufficient, ErrInsufficientBalance, "insufficient balance")
	}

	updated, err := repo.FindWalletByID(ctx, wallet.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload wallet")
	}

	entry := &models.Transaction{
		OwnerID:               m.OwnerID,
		WalletID:              wallet.ID,
		Type:                  m.Type,
		Amount:                m.Amount,
		Currency:              s.currency,
		Description:           m.Description,
		AvailableBalanceAfter: updated.AvailableBalance,
		EscrowBalanceAfter:    updated.EscrowBalance,
	}
	if m.Reference != nil {
		refType := m.Reference.Type
		refID := m.Reference.ID
		entry.ReferenceType = &refType
		entry.ReferenceID = &refID
	}
	if err := repo.CreateTransaction(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record ledger transaction")
	}
	return entry, nil
}

// Credit adds to the available balance. Type defaults to deposit.
func (s *service) Credit(ctx context.Context, tx *gorm.DB, e Entry) (*models.Transaction, error) {
	return s.Apply(ctx, tx, e.mutation(enums.TransactionDeposit, e.Amount, decimal.Zero))
}

// Debit removes from the available balance. Type defaults to withdrawal.
func (s *service) Debit(ctx context.Context, tx *gorm.DB, e Entry) (*models.Transaction, error) {
	return s.Apply(ctx, tx, e.mutation(enums.TransactionWithdrawal, e.Amount.Neg(), decimal.Zero))
}

// Freeze moves value from available into escrow.
func (s *service) Freeze(ctx context.Context, tx *gorm.DB, e Entry) (*models.Transaction, error) {
	return s.Apply(ctx, tx, e.mutation(enums.TransactionEscrowFreeze, e.Amount.Neg(), e.Amount))
}

// Release moves value from escrow back to available. Callers refunding a
// commitment set Type to escrow_refund.
func (s *service) Release(ctx context.Context, tx *gorm.DB, e Entry) (*models.Transaction, error) {
	return s.Apply(ctx, tx, e.mutation(enums.TransactionEscrowRelease, e.Amount, e.Amount.Neg()))
}

// ReleaseWithFee releases e.Amount from escrow, returning all but fee to the
// available balance. The fee leaves the payer's escrow as one platform_fee
// entry and lands on the fee wallet as a matching one, so the sum of all
// balances is unchanged.
func (s *service) ReleaseWithFee(ctx context.Context, tx *gorm.DB, e Entry, fee decimal.Decimal) ([]models.Transaction, error) {
	if err := validateMutation(e.mutation(enums.TransactionEscrowRelease, e.Amount, e.Amount.Neg())); err != nil {
		return nil, err
	}
	if fee.IsNegative() || fee.GreaterThan(e.Amount) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "fee must be between zero and the released amount")
	}
	if fee.IsPositive() && s.feeOwner == uuid.Nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, ErrNoFeeWallet, "platform fee wallet not configured")
	}
	if fee.IsZero() {
		entry, err := s.Release(ctx, tx, e)
		if err != nil {
			return nil, err
		}
		return []models.Transaction{*entry}, nil
	}

	run := func(tx *gorm.DB) ([]models.Transaction, error) {
		entries := make([]models.Transaction, 0, 3)
		net := e.Amount.Sub(fee)
		if net.IsPositive() {
			release := e
			release.Amount = net
			entry, err := s.apply(ctx, tx, release.mutation(enums.TransactionEscrowRelease, net, net.Neg()))
			if err != nil {
				return nil, err
			}
			entries = append(entries, *entry)
		}
		feeEntry, err := s.apply(ctx, tx, Mutation{
			OwnerID:        e.OwnerID,
			AvailableDelta: decimal.Zero,
			EscrowDelta:    fee.Neg(),
			Type:           enums.TransactionPlatformFee,
			Amount:         fee,
			Description:    "Platform fee",
			Reference:      e.Reference,
		})
		if err != nil {
			return nil, err
		}
		collected, err := s.apply(ctx, tx, Mutation{
			OwnerID:        s.feeOwner,
			AvailableDelta: fee,
			EscrowDelta:    decimal.Zero,
			Type:           enums.TransactionPlatformFee,
			Amount:         fee,
			Description:    "Platform fee collected",
			Reference:      e.Reference,
		})
		if err != nil {
			return nil, err
		}
		return append(entries, *feeEntry, *collected), nil
	}

	if tx != nil {
		return run(tx)
	}
	var out []models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		out, err = run(tx)
		return err
	})
	return out, err
}

func (s *service) GetWallet(ctx context.Context, ownerID uuid.UUID) (*models.Wallet, error) {
	return s.EnsureWallet(ctx, nil, ownerID)
}

func (s *service) ListTransactions(ctx context.Context, ownerID uuid.UUID, params pagination.Params) (pagination.Page[models.Transaction], error) {
	if ownerID == uuid.Nil {
		return pagination.Page[models.Transaction]{}, pkgerrors.New(pkgerrors.CodeValidation, "owner id required")
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return pagination.Page[models.Transaction]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListTransactions(ctx, ownerID, params)
	if err != nil {
		return pagination.Page[models.Transaction]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}
	return pagination.Build(rows, params.Limit, func(t models.Transaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: t.CreatedAt, ID: t.ID}
	}), nil
}

func (e Entry) mutation(defaultType enums.TransactionType, availableDelta, escrowDelta decimal.Decimal) Mutation {
	txType := e.Type
	if txType == "" {
		txType = defaultType
	}
	return Mutation{
		OwnerID:        e.OwnerID,
		AvailableDelta: availableDelta,
		EscrowDelta:    escrowDelta,
		Type:           txType,
		Amount:         e.Amount,
		Description:    e.Description,
		Reference:      e.Reference,
	}
}

func validateMutation(m Mutation) error {
	if m.OwnerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "owner id required")
	}
	if !m.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid transaction type %q", m.Type))
	}
	if !m.Amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if m.AvailableDelta.IsZero() && m.EscrowDelta.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "mutation must change a balance")
	}
	if strings.TrimSpace(m.Description) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "description required")
	}
	return nil
}
