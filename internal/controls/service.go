package controls

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/loaderescrow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/loaderescrow-backend/pkg/errors"
)

// Snapshot is a read-once copy of the platform kill-switches. Callers pass it
// down instead of re-reading the row mid-operation.
type Snapshot struct {
	DepositsEnabled       bool       `json:"deposits_enabled"`
	WithdrawalsEnabled    bool       `json:"withdrawals_enabled"`
	SweepsEnabled         bool       `json:"sweeps_enabled"`
	EmergencyMode         bool       `json:"emergency_mode"`
	RequiredConfirmations int        `json:"required_confirmations"`
	UpdatedBy             *uuid.UUID `json:"updated_by,omitempty"`
	UpdatedAt             *time.Time `json:"updated_at,omitempty"`
}

// UpdateInput carries a partial change. Nil fields keep their current value.
type UpdateInput struct {
	DepositsEnabled       *bool `json:"deposits_enabled"`
	WithdrawalsEnabled    *bool `json:"withdrawals_enabled"`
	SweepsEnabled         *bool `json:"sweeps_enabled"`
	EmergencyMode         *bool `json:"emergency_mode"`
	RequiredConfirmations *int  `json:"required_confirmations" validate:"omitempty,min=1"`
}

// Service exposes the controls to money-moving code and the admin API.
type Service interface {
	Get(ctx context.Context) (Snapshot, error)
	Update(ctx context.Context, actorID uuid.UUID, input UpdateInput) (Snapshot, error)
}

type service struct {
	repo                 Repository
	defaultConfirmations int
}

// NewService wires the controls service. defaultConfirmations applies until
// an operator writes the row.
func NewService(repo Repository, defaultConfirmations int) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("controls repository required")
	}
	if defaultConfirmations < 1 {
		return nil, fmt.Errorf("default required confirmations must be at least 1")
	}
	return &service{repo: repo, defaultConfirmations: defaultConfirmations}, nil
}

func (s *service) Get(ctx context.Context) (Snapshot, error) {
	row, err := s.repo.Find(ctx)
	if err != nil {
		return Snapshot{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet controls")
	}
	if row == nil {
		return s.defaults(), nil
	}
	return toSnapshot(*row), nil
}

func (s *service) Update(ctx context.Context, actorID uuid.UUID, input UpdateInput) (Snapshot, error) {
	if actorID == uuid.Nil {
		return Snapshot{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}
	if input.RequiredConfirmations != nil && *input.RequiredConfirmations < 1 {
		return Snapshot{}, pkgerrors.New(pkgerrors.CodeValidation, "required_confirmations must be at least 1")
	}

	current, err := s.Get(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	row := models.PlatformWalletControls{
		DepositsEnabled:       pick(input.DepositsEnabled, current.DepositsEnabled),
		WithdrawalsEnabled:    pick(input.WithdrawalsEnabled, current.WithdrawalsEnabled),
		SweepsEnabled:         pick(input.SweepsEnabled, current.SweepsEnabled),
		EmergencyMode:         pick(input.EmergencyMode, current.EmergencyMode),
		RequiredConfirmations: pick(input.RequiredConfirmations, current.RequiredConfirmations),
		UpdatedBy:             &actorID,
		UpdatedAt:             time.Now().UTC(),
	}
	if err := s.repo.Save(ctx, &row); err != nil {
		return Snapshot{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save wallet controls")
	}
	return toSnapshot(row), nil
}

func (s *service) defaults() Snapshot {
	return Snapshot{
		DepositsEnabled:       true,
		WithdrawalsEnabled:    true,
		SweepsEnabled:         true,
		RequiredConfirmations: s.defaultConfirmations,
	}
}

func toSnapshot(row models.PlatformWalletControls) Snapshot {
	snap := Snapshot{
		DepositsEnabled:       row.DepositsEnabled,
		WithdrawalsEnabled:    row.WithdrawalsEnabled,
		SweepsEnabled:         row.SweepsEnabled,
		EmergencyMode:         row.EmergencyMode,
		RequiredConfirmations: row.RequiredConfirmations,
		UpdatedBy:             row.UpdatedBy,
	}
	if !row.UpdatedAt.IsZero() {
		updated := row.UpdatedAt
		snap.UpdatedAt = &updated
	}
	return snap
}

func pick[T any](next *T, current T) T {
	if next != nil {
		return *next
	}
	return current
}
