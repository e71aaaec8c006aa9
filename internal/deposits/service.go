package deposits

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/loaderescrow-backend/pkg/chain"
	"github.com/angelmondragon/loaderescrow-backend/pkg/db"
	"github.com/angelmondragon/loaderescrow-backend/pkg/db/models"
	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/loaderescrow-backend/pkg/errors"
	"github.com/angelmondragon/loaderescrow-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// KeyCipher encrypts deposit keys at rest.
type KeyCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(encoded string) (string, error)
}

// AddressView is the public shape of a deposit address.
type AddressView struct {
	ID        uuid.UUID `json:"id"`
	Address   string    `json:"address"`
	Network   string    `json:"network"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Service manages per-user deposit addresses and read access to deposits.
type Service interface {
	Provision(ctx context.Context, ownerID uuid.UUID) (AddressView, error)
	Deactivate(ctx context.Context, addressID uuid.UUID) error
	ListDeposits(ctx context.Context, ownerID uuid.UUID, params pagination.Params) (pagination.Page[models.BlockchainDeposit], error)
	ResetSweepAttempts(ctx context.Context, depositID uuid.UUID) error
}

const resetByOperator = "reset by operator"

type service struct {
	repo    Repository
	tx      txRunner
	keys    KeyCipher
	network string
}

// NewService wires the deposit address service for one network.
func NewService(repo Repository, tx txRunner, keys KeyCipher, network string) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("deposits repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if keys == nil {
		return nil, fmt.Errorf("key cipher required")
	}
	if strings.TrimSpace(network) == "" {
		return nil, fmt.Errorf("network required")
	}
	return &service{repo: repo, tx: tx, keys: keys, network: network}, nil
}

// Provision returns the caller's active address or creates one. A fresh key is
// encrypted before it touches the database.
func (s *service) Provision(ctx context.Context, ownerID uuid.UUID) (AddressView, error) {
	if ownerID == uuid.Nil {
		return AddressView{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	var view AddressView
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindActiveAddress(ctx, ownerID, s.network)
		if err == nil {
			view = toView(*existing)
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load deposit address")
		}

		key, err := chain.GenerateKey()
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate deposit key")
		}
		defer chain.ZeroKey(key)

		encrypted, err := s.keys.Encrypt(chain.KeyToHex(key))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encrypt deposit key")
		}

		addr := &models.DepositAddress{
			OwnerID:      ownerID,
			Network:      s.network,
			Address:      chain.AddressFromKey(key),
			EncryptedKey: encrypted,
			Active:       true,
		}
		if err := repo.CreateAddress(ctx, addr); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "deposit address already provisioned")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create deposit address")
		}
		view = toView(*addr)
		return nil
	})
	if err != nil {
		return AddressView{}, err
	}
	return view, nil
}

// Deactivate retires an address. It is never reassigned to another owner.
func (s *service) Deactivate(ctx context.Context, addressID uuid.UUID) error {
	if addressID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "address id required")
	}
	affected, err := s.repo.DeactivateAddress(ctx, addressID, time.Now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deactivate deposit address")
	}
	if affected == 0 {
		if _, err := s.repo.FindAddress(ctx, addressID); errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "deposit address not found")
		}
	}
	return nil
}

func (s *service) ListDeposits(ctx context.Context, ownerID uuid.UUID, params pagination.Params) (pagination.Page[models.BlockchainDeposit], error) {
	if ownerID == uuid.Nil {
		return pagination.Page[models.BlockchainDeposit]{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return pagination.Page[models.BlockchainDeposit]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListDepositsByOwner(ctx, ownerID, params)
	if err != nil {
		return pagination.Page[models.BlockchainDeposit]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list deposits")
	}
	return pagination.Build(rows, params.Limit, func(d models.BlockchainDeposit) pagination.Cursor {
		return pagination.Cursor{CreatedAt: d.CreatedAt, ID: d.ID}
	}), nil
}

// ResetSweepAttempts lets an operator re-enable sweeping after the retry cap.
func (s *service) ResetSweepAttempts(ctx context.Context, depositID uuid.UUID) error {
	if depositID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "deposit id required")
	}
	deposit, err := s.repo.FindDeposit(ctx, depositID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "deposit not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load deposit")
	}
	switch {
	case !deposit.Status.IsCredited():
		return pkgerrors.New(pkgerrors.CodeStateConflict, "deposit has not been credited")
	case deposit.Status == enums.DepositStatusSwept:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "deposit is already swept")
	case deposit.Status == enums.DepositStatusSweepPending:
		return s.releaseSweepPending(ctx, depositID)
	}
	if err := s.repo.UpdateDepositFields(ctx, depositID, map[string]any{"sweep_attempts": 0}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reset sweep attempts")
	}
	return nil
}

// releaseSweepPending hands a stuck deposit back to credited. Any broadcast
// still on record is closed as failed; a sweep that did land leaves the
// address empty, so the next attempt fails its balance check.
func (s *service) releaseSweepPending(ctx context.Context, depositID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		affected, err := repo.TransitionDeposit(ctx, depositID, enums.DepositStatusSweepPending, enums.DepositStatusCredited, map[string]any{
			"sweep_attempts": 0,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reset sweep pending deposit")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "deposit changed status during reset")
		}
		if _, err := repo.FailSubmittedSweeps(ctx, depositID, resetByOperator); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close submitted sweeps")
		}
		return nil
	})
}

func toView(addr models.DepositAddress) AddressView {
	return AddressView{
		ID:        addr.ID,
		Address:   addr.Address,
		Network:   addr.Network,
		Active:    addr.Active,
		CreatedAt: addr.CreatedAt,
	}
}
