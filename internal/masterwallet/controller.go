package masterwallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/loaderescrow-backend/internal/controls"
	"github.com/angelmondragon/loaderescrow-backend/pkg/chain"
	"github.com/angelmondragon/loaderescrow-backend/pkg/config"
	"github.com/angelmondragon/loaderescrow-backend/pkg/db/models"
	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/loaderescrow-backend/pkg/errors"
	"github.com/angelmondragon/loaderescrow-backend/pkg/logger"
	"github.com/angelmondragon/loaderescrow-backend/pkg/metrics"
	"github.com/angelmondragon/loaderescrow-backend/pkg/outbox"
	"github.com/angelmondragon/loaderescrow-backend/pkg/outbox/payloads"
)

const (
	kindWithdrawal = "withdrawal"
	kindSweep      = "sweep"

	outcomeSuccess  = "success"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
	outcomeTimeout  = "timeout"
	outcomeUnknown  = "unconfirmed"
)

// ChainClient is the subset of the chain client the wallet signs through.
type ChainClient interface {
	NativeBalance(ctx context.Context, addr string) (decimal.Decimal, error)
	TokenBalance(ctx context.Context, addr string) (decimal.Decimal, error)
	SendTokenTransfer(ctx context.Context, key *ecdsa.PrivateKey, to string, amount decimal.Decimal) (string, error)
	WaitMined(ctx context.Context, hash string) (chain.Receipt, error)
}

// KeyDecrypter opens the encrypted master key.
type KeyDecrypter interface {
	Decrypt(encoded string) (string, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Params wires a Controller. Keys may be nil when only a raw key is configured.
type Params struct {
	Config  config.MasterWalletConfig
	Chain   ChainClient
	Keys    KeyDecrypter
	Repo    StateRepository
	Tx      txRunner
	Outbox  outboxPublisher
	Logger  *logger.Logger
	Metrics *metrics.TransferMetrics
	Now     func() time.Time
}

// Status is the operator view of the treasury.
type Status struct {
	Address       string          `json:"address"`
	SweepAddress  string          `json:"sweep_address"`
	Unlocked      bool            `json:"unlocked"`
	UnlockedBy    *uuid.UUID      `json:"unlocked_by,omitempty"`
	UnlockedAt    *time.Time      `json:"unlocked_at,omitempty"`
	NativeBalance decimal.Decimal `json:"native_balance"`
	TokenBalance  decimal.Decimal `json:"token_balance"`
}

// Controller owns the in-memory treasury signing key. The key only exists
// between a successful Unlock and the next Lock.
type Controller struct {
	mu  sync.RWMutex
	key *ecdsa.PrivateKey

	cfg     config.MasterWalletConfig
	chain   ChainClient
	keys    KeyDecrypter
	repo    StateRepository
	tx      txRunner
	outbox  outboxPublisher
	logg    *logger.Logger
	metrics *metrics.TransferMetrics
	now     func() time.Time
}

// NewController validates params. It does not unlock anything.
func NewController(p Params) (*Controller, error) {
	switch {
	case p.Chain == nil:
		return nil, fmt.Errorf("chain client required")
	case p.Repo == nil:
		return nil, fmt.Errorf("master wallet state repository required")
	case p.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	if p.Metrics == nil {
		p.Metrics = metrics.NewTransferMetrics(nil)
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Controller{
		cfg:     p.Config,
		chain:   p.Chain,
		keys:    p.Keys,
		repo:    p.Repo,
		tx:      p.Tx,
		outbox:  p.Outbox,
		logg:    p.Logger,
		metrics: p.Metrics,
		now:     p.Now,
	}, nil
}

// Address returns the configured treasury address.
func (c *Controller) Address() string {
	return strings.TrimSpace(c.cfg.Address)
}

// SweepDestination is where deposit sweeps are sent.
func (c *Controller) SweepDestination() string {
	return c.cfg.SweepDestination()
}

// IsUnlocked reports whether a verified key is loaded.
func (c *Controller) IsUnlocked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key != nil
}

// Unlock loads the configured key and fails closed unless it derives the
// treasury address.
func (c *Controller) Unlock(ctx context.Context, actorID uuid.UUID) error {
	return c.unlock(ctx, actorID)
}

func (c *Controller) unlock(ctx context.Context, actorID uuid.UUID) error {
	if !chain.IsAddress(c.Address()) {
		return pkgerrors.Wrap(pkgerrors.CodeControl, ErrKeyNotConfigured, "treasury address is not configured")
	}
	material, err := c.keyMaterial(ctx)
	if err != nil {
		return err
	}
	key, err := chain.KeyFromHex(material)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeControl, ErrKeyNotConfigured, "master wallet key is malformed")
	}

	derived := chain.AddressFromKey(key)
	if !chain.SameAddress(derived, c.Address()) {
		chain.ZeroKey(key)
		c.discardKey()
		msg := ErrAddressMismatch.Error()
		if err := c.persist(ctx, actorID, false, &msg, enums.EventMasterWalletLocked); err != nil {
			c.logg.Error(ctx, "persist locked master wallet state", err)
		}
		c.logg.Error(c.logg.WithField(ctx, "derived_address", derived), "master wallet unlock rejected", ErrAddressMismatch)
		return pkgerrors.Wrap(pkgerrors.CodeControl, ErrAddressMismatch, "signing key does not match the treasury address")
	}

	if err := c.persist(ctx, actorID, true, nil, enums.EventMasterWalletUnlocked); err != nil {
		chain.ZeroKey(key)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist master wallet state")
	}

	c.mu.Lock()
	if c.key != nil {
		chain.ZeroKey(c.key)
	}
	c.key = key
	c.mu.Unlock()

	c.logg.Info(c.logg.WithUserID(ctx, actorID.String()), "master wallet unlocked")
	return nil
}

func (c *Controller) keyMaterial(ctx context.Context) (string, error) {
	if encrypted := strings.TrimSpace(c.cfg.EncryptedPrivateKey); encrypted != "" {
		if c.keys == nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeControl, ErrKeyNotConfigured, "encryption key is not configured")
		}
		plaintext, err := c.keys.Decrypt(encrypted)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeControl, ErrKeyNotConfigured, "master wallet key could not be decrypted")
		}
		return plaintext, nil
	}
	if c.cfg.UsesRawKey() {
		c.logg.Warn(ctx, "master wallet is using an unencrypted private key")
		return strings.TrimSpace(c.cfg.PrivateKey), nil
	}
	return "", pkgerrors.Wrap(pkgerrors.CodeControl, ErrKeyNotConfigured, "master wallet key is not configured")
}

// Lock discards the key and records the locked state.
func (c *Controller) Lock(ctx context.Context, actorID uuid.UUID) error {
	c.discardKey()
	if err := c.persist(ctx, actorID, false, nil, enums.EventMasterWalletLocked); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist master wallet state")
	}
	c.logg.Info(c.logg.WithUserID(ctx, actorID.String()), "master wallet locked")
	return nil
}

// Restore re-derives the unlocked state after a restart. Only the flag is
// persisted, so the key is reloaded from the configured source.
func (c *Controller) Restore(ctx context.Context) error {
	state, err := c.repo.Load(ctx)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load master wallet state")
	}
	if state == nil || !state.Unlocked {
		return nil
	}
	actor := uuid.Nil
	if state.UnlockedBy != nil {
		actor = *state.UnlockedBy
	}
	if err := c.unlock(ctx, actor); err != nil {
		c.logg.Error(ctx, "master wallet restore failed", err)
		if !errors.Is(err, ErrAddressMismatch) {
			msg := err.Error()
			if perr := c.persist(ctx, actor, false, &msg, enums.EventMasterWalletLocked); perr != nil {
				c.logg.Error(ctx, "persist locked master wallet state", perr)
			}
		}
		return err
	}
	c.logg.Info(ctx, "master wallet restored")
	return nil
}

// Status reads live balances for the treasury.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	out := Status{
		Address:      c.Address(),
		SweepAddress: c.SweepDestination(),
		Unlocked:     c.IsUnlocked(),
	}
	state, err := c.repo.Load(ctx)
	if err != nil {
		return Status{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load master wallet state")
	}
	if state != nil && state.Unlocked {
		out.UnlockedBy = state.UnlockedBy
		out.UnlockedAt = state.UnlockedAt
	}
	if !chain.IsAddress(out.Address) {
		return out, nil
	}
	if out.NativeBalance, err = c.chain.NativeBalance(ctx, out.Address); err != nil {
		return Status{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read native balance")
	}
	if out.TokenBalance, err = c.chain.TokenBalance(ctx, out.Address); err != nil {
		return Status{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read token balance")
	}
	return out, nil
}

// Transfer pays amount from the treasury to to. On ErrTransferTimeout the
// returned hash identifies a transaction that may still be mined.
func (c *Controller) Transfer(ctx context.Context, snap controls.Snapshot, to string, amount decimal.Decimal) (string, error) {
	hash, err := c.submitTreasury(ctx, snap, to, amount)
	if err != nil {
		c.metrics.Inc(kindWithdrawal, outcomeFor(err))
		return "", err
	}
	return c.await(ctx, kindWithdrawal, hash)
}

func (c *Controller) submitTreasury(ctx context.Context, snap controls.Snapshot, to string, amount decimal.Decimal) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.key == nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeControl, ErrNotUnlocked, "master wallet is locked")
	}
	if !chain.IsAddress(to) {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInvalidAddress, "destination is not a valid address")
	}
	if !amount.IsPositive() {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInvalidAmount, "amount must be positive")
	}
	if snap.EmergencyMode {
		return "", pkgerrors.Wrap(pkgerrors.CodeControl, ErrEmergencyMode, "emergency mode is active")
	}
	if !snap.WithdrawalsEnabled {
		return "", pkgerrors.Wrap(pkgerrors.CodeControl, ErrWithdrawalsDisabled, "withdrawals are disabled")
	}
	if err := c.checkBalances(ctx, c.Address(), amount); err != nil {
		return "", err
	}
	return c.send(ctx, c.key, to, amount)
}

// Sweep consolidates a deposit address into the sweep destination using
// that address's own key.
func (c *Controller) Sweep(ctx context.Context, snap controls.Snapshot, key *ecdsa.PrivateKey, amount decimal.Decimal) (string, error) {
	hash, err := c.submitSweep(ctx, snap, key, amount)
	if err != nil {
		c.metrics.Inc(kindSweep, outcomeFor(err))
		return "", err
	}
	return c.await(ctx, kindSweep, hash)
}

func (c *Controller) submitSweep(ctx context.Context, snap controls.Snapshot, key *ecdsa.PrivateKey, amount decimal.Decimal) (string, error) {
	if key == nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, ErrKeyNotConfigured, "deposit key required")
	}
	dest := c.SweepDestination()
	if !chain.IsAddress(dest) {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInvalidAddress, "sweep destination is not a valid address")
	}
	if !amount.IsPositive() {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInvalidAmount, "amount must be positive")
	}
	if snap.EmergencyMode {
		return "", pkgerrors.Wrap(pkgerrors.CodeControl, ErrEmergencyMode, "emergency mode is active")
	}
	if !snap.SweepsEnabled {
		return "", pkgerrors.Wrap(pkgerrors.CodeControl, ErrSweepsDisabled, "sweeps are disabled")
	}
	if err := c.checkBalances(ctx, chain.AddressFromKey(key), amount); err != nil {
		return "", err
	}
	return c.send(ctx, key, dest, amount)
}

func (c *Controller) checkBalances(ctx context.Context, from string, amount decimal.Decimal) error {
	native, err := c.chain.NativeBalance(ctx, from)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read native balance")
	}
	if native.LessThan(c.cfg.MinGasReserve) {
		return pkgerrors.Wrap(pkgerrors.CodeControl, ErrInsufficientGas, "insufficient native balance for gas")
	}
	token, err := c.chain.TokenBalance(ctx, from)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read token balance")
	}
	if token.LessThan(amount) {
		return pkgerrors.Wrap(pkgerrors.CodeInsufficient, ErrInsufficientFunds, "insufficient token balance")
	}
	return nil
}

func (c *Controller) send(ctx context.Context, key *ecdsa.PrivateKey, to string, amount decimal.Decimal) (string, error) {
	hash, err := c.chain.SendTokenTransfer(ctx, key, to, amount)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "submit transfer")
	}
	return hash, nil
}

// await bounds the wait for inclusion. The hash is returned with every
// outcome so callers can reconcile. Only a mined revert is a definite
// failure; anything else after broadcast leaves the transfer unconfirmed.
func (c *Controller) await(ctx context.Context, kind, hash string) (string, error) {
	waitCtx := ctx
	if c.cfg.TransferTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.cfg.TransferTimeout)
		defer cancel()
	}

	logCtx := c.logg.WithField(c.logg.WithTxHash(ctx, hash), "kind", kind)
	_, err := c.chain.WaitMined(waitCtx, hash)
	switch {
	case err == nil:
		c.metrics.Inc(kind, outcomeSuccess)
		c.logg.Info(logCtx, "transfer mined")
		return hash, nil
	case errors.Is(err, chain.ErrTransferReverted):
		c.metrics.Inc(kind, outcomeFailed)
		c.logg.Error(logCtx, "transfer reverted", err)
		return hash, pkgerrors.Wrap(pkgerrors.CodeDependency, ErrTransferReverted, "transfer reverted")
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		c.metrics.Inc(kind, outcomeTimeout)
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "transfer not mined before timeout")
		return hash, pkgerrors.Wrap(pkgerrors.CodeTimeout, ErrTransferTimeout, "transfer not confirmed in time")
	default:
		c.metrics.Inc(kind, outcomeUnknown)
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "transfer outcome unknown")
		return hash, pkgerrors.Wrap(pkgerrors.CodeTimeout, ErrTransferUnconfirmed, "transfer outcome unknown")
	}
}

// IsUnconfirmed reports whether err leaves a broadcast transfer pending
// reconciliation rather than definitely failed.
func IsUnconfirmed(err error) bool {
	return errors.Is(err, ErrTransferTimeout) || errors.Is(err, ErrTransferUnconfirmed)
}

func (c *Controller) discardKey() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key != nil {
		chain.ZeroKey(c.key)
		c.key = nil
	}
}

func (c *Controller) persist(ctx context.Context, actorID uuid.UUID, unlocked bool, lastError *string, eventType enums.OutboxEventType) error {
	now := c.now().UTC()
	state := &models.MasterWalletState{
		Address:   c.Address(),
		Unlocked:  unlocked,
		LastError: lastError,
		UpdatedAt: now,
	}
	if unlocked {
		state.UnlockedAt = &now
		if actorID != uuid.Nil {
			actor := actorID
			state.UnlockedBy = &actor
		}
	} else {
		state.LockedAt = &now
	}

	return c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := c.repo.WithTx(tx).Save(ctx, state); err != nil {
			return err
		}
		var actor *outbox.ActorRef
		if actorID != uuid.Nil {
			actor = &outbox.ActorRef{UserID: actorID, Role: enums.UserRoleAdmin.String()}
		}
		return c.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateMasterWallet,
			AggregateID:   aggregateID(c.Address()),
			Actor:         actor,
			Data: payloads.MasterWalletEvent{
				Address:  c.Address(),
				Unlocked: unlocked,
				ActorID:  actorID,
			},
		})
	})
}

func aggregateID(address string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.ToLower(address)))
}

func outcomeFor(err error) string {
	if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeDependency {
		return outcomeFailed
	}
	return outcomeRejected
}
