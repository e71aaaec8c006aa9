package withdrawals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/loaderescrow-backend/internal/controls"
	"github.com/angelmondragon/loaderescrow-backend/internal/ledger"
	"github.com/angelmondragon/loaderescrow-backend/internal/masterwallet"
	"github.com/angelmondragon/loaderescrow-backend/pkg/chain"
	"github.com/angelmondragon/loaderescrow-backend/pkg/db/models"
	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/loaderescrow-backend/pkg/errors"
	"github.com/angelmondragon/loaderescrow-backend/pkg/logger"
	"github.com/angelmondragon/loaderescrow-backend/pkg/outbox"
	"github.com/angelmondragon/loaderescrow-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/loaderescrow-backend/pkg/pagination"
)

const referenceTypeWithdrawal = "withdrawal"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ControlsReader returns the platform controls snapshot.
type ControlsReader interface {
	Get(ctx context.Context) (controls.Snapshot, error)
}

// Ledger debits the owner and reverses failed payouts.
type Ledger interface {
	Debit(ctx context.Context, tx *gorm.DB, e ledger.Entry) (*models.Transaction, error)
	Credit(ctx context.Context, tx *gorm.DB, e ledger.Entry) (*models.Transaction, error)
}

// Treasury signs the outbound transfer.
type Treasury interface {
	IsUnlocked() bool
	Transfer(ctx context.Context, snap controls.Snapshot, to string, amount decimal.Decimal) (string, error)
}

// RequestInput is an administrative payout instruction.
type RequestInput struct {
	AdminID   uuid.UUID
	OwnerID   uuid.UUID
	ToAddress string
	Amount    decimal.Decimal
}

// Service executes administrative withdrawals.
type Service interface {
	Request(ctx context.Context, input RequestInput) (*models.Withdrawal, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error)
	List(ctx context.Context, ownerID uuid.UUID, params pagination.Params) (pagination.Page[models.Withdrawal], error)
}

// ServiceParams wires the withdrawals service.
type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Controls ControlsReader
	Ledger   Ledger
	Treasury Treasury
	Outbox   outboxPublisher
	Logger   *logger.Logger
	Currency string
	Now      func() time.Time
}

type service struct {
	repo     Repository
	tx       txRunner
	controls ControlsReader
	ledger   Ledger
	treasury Treasury
	outbox   outboxPublisher
	logg     *logger.Logger
	currency string
	now      func() time.Time
}

// NewService validates params and returns the withdrawals service.
func NewService(p ServiceParams) (Service, error) {
	switch {
	case p.Repo == nil:
		return nil, fmt.Errorf("withdrawals repository required")
	case p.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case p.Controls == nil:
		return nil, fmt.Errorf("controls reader required")
	case p.Ledger == nil:
		return nil, fmt.Errorf("ledger required")
	case p.Treasury == nil:
		return nil, fmt.Errorf("treasury required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currency == "" {
		return nil, fmt.Errorf("currency required")
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &service{
		repo:     p.Repo,
		tx:       p.Tx,
		controls: p.Controls,
		ledger:   p.Ledger,
		treasury: p.Treasury,
		outbox:   p.Outbox,
		logg:     p.Logger,
		currency: currency,
		now:      p.Now,
	}, nil
}

// Request debits the owner, pays out from the treasury and settles the
// record. An unconfirmed payout keeps the debit and returns no error.
func (s *service) Request(ctx context.Context, input RequestInput) (*models.Withdrawal, error) {
	if err := validate(input); err != nil {
		return nil, err
	}

	snap, err := s.controls.Get(ctx)
	if err != nil {
		return nil, err
	}
	switch {
	case snap.EmergencyMode:
		return nil, pkgerrors.Wrap(pkgerrors.CodeControl, masterwallet.ErrEmergencyMode, "emergency mode is active")
	case !snap.WithdrawalsEnabled:
		return nil, pkgerrors.Wrap(pkgerrors.CodeControl, masterwallet.ErrWithdrawalsDisabled, "withdrawals are disabled")
	case !s.treasury.IsUnlocked():
		return nil, pkgerrors.Wrap(pkgerrors.CodeControl, masterwallet.ErrNotUnlocked, "master wallet is locked")
	}

	w, err := s.debit(ctx, input)
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"withdrawal_id": w.ID.String(),
		"user_id":       input.OwnerID.String(),
		"actor_id":      input.AdminID.String(),
	})
	s.logg.Info(logCtx, "withdrawal debited")

	// The owner is already debited, so settlement must run to completion.
	settleCtx := context.WithoutCancel(ctx)
	hash, transferErr := s.treasury.Transfer(settleCtx, snap, w.ToAddress, w.Amount)

	switch {
	case transferErr == nil:
		return s.complete(settleCtx, logCtx, w, hash)
	case masterwallet.IsUnconfirmed(transferErr),
		hash != "" && !errors.Is(transferErr, masterwallet.ErrTransferReverted):
		// Broadcast without a mined revert: the payout may still land.
		return s.markUnconfirmed(settleCtx, logCtx, w, hash)
	default:
		return s.fail(settleCtx, logCtx, w, hash, transferErr)
	}
}

func validate(input RequestInput) error {
	if input.AdminID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "admin identity missing")
	}
	if input.OwnerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "owner_id is required")
	}
	if !chain.IsAddress(input.ToAddress) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, masterwallet.ErrInvalidAddress, "to_address is not a valid address")
	}
	if !input.Amount.IsPositive() {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, masterwallet.ErrInvalidAmount, "amount must be positive")
	}
	return nil
}

func (s *service) debit(ctx context.Context, input RequestInput) (*models.Withdrawal, error) {
	w := &models.Withdrawal{
		OwnerID:     input.OwnerID,
		RequestedBy: input.AdminID,
		ToAddress:   strings.TrimSpace(input.ToAddress),
		Amount:      input.Amount,
		Currency:    s.currency,
		Status:      enums.WithdrawalStatusPending,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, w); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create withdrawal")
		}
		entry, err := s.ledger.Debit(ctx, tx, ledger.Entry{
			OwnerID:     w.OwnerID,
			Amount:      w.Amount,
			Description: fmt.Sprintf("Withdrawal to %s", w.ToAddress),
			Reference:   &ledger.Reference{Type: referenceTypeWithdrawal, ID: w.ID},
		})
		if err != nil {
			return err
		}
		w.DebitTransactionID = &entry.ID
		if err := repo.UpdateFields(ctx, w.ID, map[string]any{"debit_transaction_id": entry.ID}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link withdrawal debit")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (s *service) complete(ctx, logCtx context.Context, w *models.Withdrawal, hash string) (*models.Withdrawal, error) {
	now := s.now().UTC()
	err := s.settle(ctx, w, enums.WithdrawalStatusCompleted, map[string]any{
		"tx_hash":      hash,
		"completed_at": now,
	}, nil, "")
	if err != nil {
		s.logg.Error(s.logg.WithTxHash(logCtx, hash), "withdrawal paid out but not recorded", err)
		return nil, err
	}
	w.Status = enums.WithdrawalStatusCompleted
	w.TxHash = &hash
	w.CompletedAt = &now
	s.logg.Info(s.logg.WithTxHash(logCtx, hash), "withdrawal completed")
	return w, nil
}

func (s *service) markUnconfirmed(ctx, logCtx context.Context, w *models.Withdrawal, hash string) (*models.Withdrawal, error) {
	if err := s.settle(ctx, w, enums.WithdrawalStatusUnconfirmed, map[string]any{"tx_hash": hash}, nil, ""); err != nil {
		s.logg.Error(s.logg.WithTxHash(logCtx, hash), "withdrawal unconfirmed but not recorded", err)
		return nil, err
	}
	w.Status = enums.WithdrawalStatusUnconfirmed
	w.TxHash = &hash
	s.logg.Warn(s.logg.WithTxHash(logCtx, hash), "withdrawal submitted but not confirmed in time")
	return w, nil
}

func (s *service) fail(ctx, logCtx context.Context, w *models.Withdrawal, hash string, cause error) (*models.Withdrawal, error) {
	reason := failureReason(cause)
	fields := map[string]any{"failure_reason": reason}
	if hash != "" {
		fields["tx_hash"] = hash
	}
	reversal := func(tx *gorm.DB) (map[string]any, error) {
		entry, err := s.ledger.Credit(ctx, tx, ledger.Entry{
			OwnerID:     w.OwnerID,
			Amount:      w.Amount,
			Type:        enums.TransactionWithdrawalReversal,
			Description: "Withdrawal reversed - " + reason,
			Reference:   &ledger.Reference{Type: referenceTypeWithdrawal, ID: w.ID},
		})
		if err != nil {
			return nil, err
		}
		w.ReversalTransactionID = &entry.ID
		return map[string]any{"reversal_transaction_id": entry.ID}, nil
	}
	if err := s.settle(ctx, w, enums.WithdrawalStatusFailed, fields, reversal, reason); err != nil {
		s.logg.Error(logCtx, "withdrawal failed and reversal not recorded", err)
		return nil, err
	}
	w.Status = enums.WithdrawalStatusFailed
	w.FailureReason = &reason
	if hash != "" {
		w.TxHash = &hash
	}
	s.logg.Error(logCtx, "withdrawal failed and was reversed", cause)
	return w, cause
}

// settle moves a pending withdrawal to its outcome, runs any reversal and
// emits the outcome event in one transaction.
func (s *service) settle(ctx context.Context, w *models.Withdrawal, to enums.WithdrawalStatus, fields map[string]any, reversal func(tx *gorm.DB) (map[string]any, error), reason string) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if reversal != nil {
			extra, err := reversal(tx)
			if err != nil {
				return err
			}
			for k, v := range extra {
				fields[k] = v
			}
		}
		rows, err := s.repo.WithTx(tx).Transition(ctx, w.ID, enums.WithdrawalStatusPending, to, fields)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update withdrawal")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "withdrawal is no longer pending")
		}

		hash, _ := fields["tx_hash"].(string)
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventFor(to),
			AggregateType: enums.AggregateWithdrawal,
			AggregateID:   w.ID,
			Actor:         &outbox.ActorRef{UserID: w.RequestedBy, Role: enums.UserRoleAdmin.String()},
			Data: payloads.WithdrawalEvent{
				WithdrawalID: w.ID,
				OwnerID:      w.OwnerID,
				ToAddress:    w.ToAddress,
				Amount:       w.Amount,
				Status:       to,
				TxHash:       hash,
				Reason:       reason,
			},
		})
	})
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	w, err := s.repo.Find(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "withdrawal not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load withdrawal")
	}
	return w, nil
}

func (s *service) List(ctx context.Context, ownerID uuid.UUID, params pagination.Params) (pagination.Page[models.Withdrawal], error) {
	if ownerID == uuid.Nil {
		return pagination.Page[models.Withdrawal]{}, pkgerrors.New(pkgerrors.CodeValidation, "owner_id is required")
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return pagination.Page[models.Withdrawal]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListByOwner(ctx, ownerID, params)
	if err != nil {
		return pagination.Page[models.Withdrawal]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list withdrawals")
	}
	return pagination.Build(rows, params.Limit, func(w models.Withdrawal) pagination.Cursor {
		return pagination.Cursor{CreatedAt: w.CreatedAt, ID: w.ID}
	}), nil
}

func eventFor(status enums.WithdrawalStatus) enums.OutboxEventType {
	switch status {
	case enums.WithdrawalStatusCompleted:
		return enums.EventWithdrawalCompleted
	case enums.WithdrawalStatusUnconfirmed:
		return enums.EventWithdrawalUnconfirmed
	default:
		return enums.EventWithdrawalFailed
	}
}

// failureReason prefers the typed message over the raw node error.
func failureReason(err error) string {
	if typed := pkgerrors.As(err); typed != nil && typed.Message() != "" {
		return typed.Message()
	}
	return "transfer failed"
}
