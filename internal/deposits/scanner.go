package deposits

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/loaderescrow-backend/internal/controls"
	"github.com/angelmondragon/loaderescrow-backend/internal/ledger"
	"github.com/angelmondragon/loaderescrow-backend/internal/masterwallet"
	"github.com/angelmondragon/loaderescrow-backend/pkg/chain"
	"github.com/angelmondragon/loaderescrow-backend/pkg/db"
	"github.com/angelmondragon/loaderescrow-backend/pkg/db/models"
	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
	"github.com/angelmondragon/loaderescrow-backend/pkg/logger"
	"github.com/angelmondragon/loaderescrow-backend/pkg/metrics"
	"github.com/angelmondragon/loaderescrow-backend/pkg/outbox"
	"github.com/angelmondragon/loaderescrow-backend/pkg/outbox/payloads"
)

// CheckpointName keys the scanner row in scanner_checkpoints.
const CheckpointName = "deposit_scanner"

const (
	SkipInProgress       = "in_progress"
	SkipDepositsDisabled = "deposits_disabled"
	SkipEmergencyMode    = "emergency_mode"
)

const (
	PhaseDiscover = "discover"
	PhaseConfirm  = "confirm"
	PhaseCredit   = "credit"
	PhaseSweep    = "sweep"
	PhaseSettle   = "settle_sweeps"
)

const defaultSweepStaleAfter = 10 * time.Minute

var (
	errSweepReverted    = errors.New("sweep transaction reverted on chain")
	errSweepInterrupted = errors.New("sweep interrupted before its outcome was recorded")
)

const referenceTypeDeposit = "blockchain_deposit"

// ChainReader is the read side of the chain client used by the scanner.
type ChainReader interface {
	TokenContract() string
	BlockNumber(ctx context.Context) (uint64, error)
	TransferLogs(ctx context.Context, to string, from, toBlock uint64) ([]chain.TransferLog, error)
	TransactionReceipt(ctx context.Context, hash string) (chain.Receipt, error)
}

// ControlsReader returns the current platform controls.
type ControlsReader interface {
	Get(ctx context.Context) (controls.Snapshot, error)
}

// Creditor posts confirmed deposits to the ledger inside the caller's tx.
type Creditor interface {
	Credit(ctx context.Context, tx *gorm.DB, e ledger.Entry) (*models.Transaction, error)
}

// Sweeper moves deposit funds into custody.
type Sweeper interface {
	SweepDestination() string
	Sweep(ctx context.Context, snap controls.Snapshot, key *ecdsa.PrivateKey, amount decimal.Decimal) (string, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ScannerParams wires a Scanner.
type ScannerParams struct {
	Repo     Repository
	Tx       txRunner
	Chain    ChainReader
	Controls ControlsReader
	Ledger   Creditor
	Sweeper  Sweeper
	Keys     KeyCipher
	Outbox   outboxPublisher
	Logger   *logger.Logger
	Metrics  *metrics.ScannerMetrics

	Network          string
	LookbackBlocks   uint64
	RollbackBlocks   uint64
	SweepMaxAttempts int
	SweepStaleAfter  time.Duration
	Now              func() time.Time
}

// RunResult summarises one pass.
type RunResult struct {
	Skipped      bool   `json:"skipped"`
	SkipReason   string `json:"skip_reason,omitempty"`
	CurrentBlock uint64 `json:"current_block"`
	FromBlock    uint64 `json:"from_block"`
	Discovered   int    `json:"discovered"`
	Confirmed    int    `json:"confirmed"`
	Credited     int    `json:"credited"`
	Swept        int    `json:"swept"`
	SweepPending int    `json:"sweep_pending"`
	SweepFailed  int    `json:"sweep_failed"`
	Errors       int    `json:"errors"`
}

// Scanner discovers, confirms, credits and sweeps deposits. Only one pass
// runs at a time per process; overlapping calls return immediately.
type Scanner struct {
	repo     Repository
	tx       txRunner
	chain    ChainReader
	controls ControlsReader
	ledger   Creditor
	sweeper  Sweeper
	keys     KeyCipher
	outbox   outboxPublisher
	logg     *logger.Logger
	metrics  *metrics.ScannerMetrics

	network     string
	lookback    uint64
	rollback    uint64
	maxAttempts int
	staleAfter  time.Duration
	now         func() time.Time

	running atomic.Bool
}

// NewScanner validates params and builds a Scanner.
func NewScanner(p ScannerParams) (*Scanner, error) {
	switch {
	case p.Repo == nil:
		return nil, fmt.Errorf("deposits repository required")
	case p.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case p.Chain == nil:
		return nil, fmt.Errorf("chain reader required")
	case p.Controls == nil:
		return nil, fmt.Errorf("controls reader required")
	case p.Ledger == nil:
		return nil, fmt.Errorf("ledger required")
	case p.Sweeper == nil:
		return nil, fmt.Errorf("sweeper required")
	case p.Keys == nil:
		return nil, fmt.Errorf("key cipher required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case strings.TrimSpace(p.Network) == "":
		return nil, fmt.Errorf("network required")
	case p.LookbackBlocks == 0:
		return nil, fmt.Errorf("lookback blocks must be positive")
	case p.SweepMaxAttempts < 1:
		return nil, fmt.Errorf("sweep max attempts must be at least 1")
	}
	if p.Metrics == nil {
		p.Metrics = metrics.NewScannerMetrics(nil)
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.SweepStaleAfter <= 0 {
		p.SweepStaleAfter = defaultSweepStaleAfter
	}
	return &Scanner{
		repo:        p.Repo,
		tx:          p.Tx,
		chain:       p.Chain,
		controls:    p.Controls,
		ledger:      p.Ledger,
		sweeper:     p.Sweeper,
		keys:        p.Keys,
		outbox:      p.Outbox,
		logg:        p.Logger,
		metrics:     p.Metrics,
		network:     p.Network,
		lookback:    p.LookbackBlocks,
		rollback:    p.RollbackBlocks,
		maxAttempts: p.SweepMaxAttempts,
		staleAfter:  p.SweepStaleAfter,
		now:         p.Now,
	}, nil
}

// Running reports whether a pass is in flight.
func (s *Scanner) Running() bool {
	return s.running.Load()
}

// Run executes one pass. Per-record failures are collected into the returned
// error without stopping the remaining records or phases.
func (s *Scanner) Run(ctx context.Context) (RunResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return s.skip(ctx, SkipInProgress), nil
	}
	defer s.running.Store(false)

	snap, err := s.controls.Get(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("load controls: %w", err)
	}
	if snap.EmergencyMode {
		return s.skip(ctx, SkipEmergencyMode), nil
	}
	if !snap.DepositsEnabled {
		return s.skip(ctx, SkipDepositsDisabled), nil
	}

	current, err := s.chain.BlockNumber(ctx)
	if err != nil {
		s.metrics.IncError(PhaseDiscover)
		return RunResult{}, fmt.Errorf("read block number: %w", err)
	}

	result := RunResult{CurrentBlock: current}
	var errs error
	errs = multierr.Append(errs, s.discover(ctx, snap, current, &result))
	errs = multierr.Append(errs, s.confirm(ctx, current, &result))
	errs = multierr.Append(errs, s.credit(ctx, &result))
	errs = multierr.Append(errs, s.settleSweeps(ctx, &result))
	if snap.SweepsEnabled {
		errs = multierr.Append(errs, s.sweep(ctx, snap, &result))
	}
	result.Errors = len(multierr.Errors(errs))

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"current_block": current,
		"from_block":    result.FromBlock,
		"discovered":    result.Discovered,
		"confirmed":     result.Confirmed,
		"credited":      result.Credited,
		"swept":         result.Swept,
		"sweep_pending": result.SweepPending,
		"sweep_failed":  result.SweepFailed,
		"errors":        result.Errors,
	})
	if errs != nil {
		s.logg.Warn(logCtx, "deposit scan finished with errors")
	} else {
		s.logg.Info(logCtx, "deposit scan finished")
	}
	return result, errs
}

func (s *Scanner) skip(ctx context.Context, reason string) RunResult {
	s.metrics.IncSkipped(reason)
	s.logg.Info(s.logg.WithField(ctx, "reason", reason), "deposit scan skipped")
	return RunResult{Skipped: true, SkipReason: reason}
}

func (s *Scanner) discover(ctx context.Context, snap controls.Snapshot, current uint64, result *RunResult) error {
	last, err := s.repo.GetCheckpoint(ctx, CheckpointName)
	if err != nil {
		s.metrics.IncError(PhaseDiscover)
		return fmt.Errorf("load checkpoint: %w", err)
	}
	from := scanStart(last, current, s.rollback, s.lookback)
	result.FromBlock = from

	addrs, err := s.repo.ListActiveAddresses(ctx, s.network)
	if err != nil {
		s.metrics.IncError(PhaseDiscover)
		return fmt.Errorf("list deposit addresses: %w", err)
	}

	var errs error
	for _, addr := range addrs {
		logs, err := s.chain.TransferLogs(ctx, addr.Address, from, current)
		if err != nil {
			s.metrics.IncError(PhaseDiscover)
			errs = multierr.Append(errs, fmt.Errorf("scan %s: %w", addr.Address, err))
			continue
		}
		for _, lg := range logs {
			created, err := s.record(ctx, snap, addr, lg)
			if err != nil {
				s.metrics.IncError(PhaseDiscover)
				errs = multierr.Append(errs, fmt.Errorf("record %s: %w", lg.TxHash, err))
				continue
			}
			if created {
				result.Discovered++
			}
		}
	}
	s.metrics.AddProcessed(PhaseDiscover, result.Discovered)

	if errs != nil {
		return errs
	}
	if err := s.repo.SaveCheckpoint(ctx, CheckpointName, current); err != nil {
		s.metrics.IncError(PhaseDiscover)
		return fmt.Errorf("save checkpoint: %w", err)
	}
	s.metrics.SetLastBlock(current)
	return nil
}

// record stores a newly seen transfer. Known hashes are skipped, including
// ones inserted concurrently between the lookup and the insert.
func (s *Scanner) record(ctx context.Context, snap controls.Snapshot, addr models.DepositAddress, lg chain.TransferLog) (bool, error) {
	if !lg.Amount.IsPositive() {
		return false, nil
	}
	existing, err := s.repo.FindDepositByTxHash(ctx, lg.TxHash)
	if err != nil {
		return false, err
	}
	if existing != nil {
		if existing.LogIndex != lg.LogIndex {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"deposit_id":         existing.ID.String(),
				"tx_hash":            lg.TxHash,
				"log_index":          lg.LogIndex,
				"recorded_log_index": existing.LogIndex,
				"to_address":         addr.Address,
				"amount":             lg.Amount.String(),
			}), "deposit transfer skipped: transaction already credited once")
		}
		return false, nil
	}

	deposit := &models.BlockchainDeposit{
		OwnerID:               addr.OwnerID,
		DepositAddressID:      addr.ID,
		TxHash:                lg.TxHash,
		LogIndex:              lg.LogIndex,
		FromAddress:           lg.From,
		ToAddress:             addr.Address,
		Amount:                lg.Amount,
		TokenContract:         s.chain.TokenContract(),
		Network:               s.network,
		BlockNumber:           lg.BlockNumber,
		Confirmations:         0,
		RequiredConfirmations: snap.RequiredConfirmations,
		Status:                enums.DepositStatusPending,
		DetectedAt:            s.now().UTC(),
	}
	if err := s.repo.CreateDeposit(ctx, deposit); err != nil {
		if db.IsUniqueViolation(err, "") {
			return false, nil
		}
		return false, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"deposit_id": deposit.ID.String(),
		"tx_hash":    deposit.TxHash,
		"block":      deposit.BlockNumber,
		"amount":     deposit.Amount.String(),
	}), "deposit discovered")
	return true, nil
}

func (s *Scanner) confirm(ctx context.Context, current uint64, result *RunResult) error {
	pending, err := s.repo.ListDepositsByStatus(ctx, []enums.DepositStatus{
		enums.DepositStatusPending,
		enums.DepositStatusConfirming,
	})
	if err != nil {
		s.metrics.IncError(PhaseConfirm)
		return fmt.Errorf("list unconfirmed deposits: %w", err)
	}

	var errs error
	for _, d := range pending {
		if !d.Status.AwaitingConfirmation() {
			continue
		}
		receipt, err := s.chain.TransactionReceipt(ctx, d.TxHash)
		if errors.Is(err, chain.ErrReceiptPending) {
			continue
		}
		if err != nil {
			s.metrics.IncError(PhaseConfirm)
			errs = multierr.Append(errs, fmt.Errorf("receipt %s: %w", d.TxHash, err))
			continue
		}

		confirmations := confirmationsAt(current, receipt.BlockNumber)
		if confirmations < d.Confirmations {
			confirmations = d.Confirmations
		}
		next := enums.DepositStatusConfirming
		var confirmedAt *time.Time
		if confirmations >= d.RequiredConfirmations {
			next = enums.DepositStatusConfirmed
			now := s.now().UTC()
			confirmedAt = &now
		}
		if next == d.Status && confirmations == d.Confirmations && receipt.BlockNumber == d.BlockNumber {
			continue
		}
		if next != d.Status && !d.Status.CanTransitionTo(next) {
			continue
		}

		affected, err := s.repo.AdvanceConfirmations(ctx, d.ID, confirmations, receipt.BlockNumber, next, confirmedAt)
		if err != nil {
			s.metrics.IncError(PhaseConfirm)
			errs = multierr.Append(errs, fmt.Errorf("advance %s: %w", d.TxHash, err))
			continue
		}
		if affected > 0 && next == enums.DepositStatusConfirmed {
			result.Confirmed++
		}
	}
	s.metrics.AddProcessed(PhaseConfirm, result.Confirmed)
	return errs
}

func (s *Scanner) credit(ctx context.Context, result *RunResult) error {
	confirmed, err := s.repo.ListDepositsByStatus(ctx, []enums.DepositStatus{enums.DepositStatusConfirmed})
	if err != nil {
		s.metrics.IncError(PhaseCredit)
		return fmt.Errorf("list confirmed deposits: %w", err)
	}

	var errs error
	for _, d := range confirmed {
		credited, err := s.creditOne(ctx, d)
		if err != nil {
			s.metrics.IncError(PhaseCredit)
			s.logg.Error(s.logg.WithDepositID(ctx, d.ID.String()), "deposit credit failed", err)
			errs = multierr.Append(errs, fmt.Errorf("credit %s: %w", d.TxHash, err))
			continue
		}
		if credited {
			result.Credited++
		}
	}
	s.metrics.AddProcessed(PhaseCredit, result.Credited)
	return errs
}

// creditOne makes the confirmed to credited status change the single commit
// point for the ledger credit. A deposit moved by someone else is skipped.
func (s *Scanner) creditOne(ctx context.Context, d models.BlockchainDeposit) (bool, error) {
	credited := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now().UTC()
		affected, err := repo.TransitionDeposit(ctx, d.ID, enums.DepositStatusConfirmed, enums.DepositStatusCredited, map[string]any{
			"credited_at": now,
		})
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}

		entry, err := s.ledger.Credit(ctx, tx, ledger.Entry{
			OwnerID:     d.OwnerID,
			Amount:      d.Amount,
			Type:        enums.TransactionDeposit,
			Description: creditDescription(d.TxHash),
			Reference:   &ledger.Reference{Type: referenceTypeDeposit, ID: d.ID},
		})
		if err != nil {
			return err
		}
		if err := repo.UpdateDepositFields(ctx, d.ID, map[string]any{"credited_transaction_id": entry.ID}); err != nil {
			return err
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDepositCredited,
			AggregateType: enums.AggregateDeposit,
			AggregateID:   d.ID,
			Data: payloads.DepositCreditedEvent{
				DepositID:     d.ID,
				OwnerID:       d.OwnerID,
				TxHash:        d.TxHash,
				Amount:        d.Amount,
				Currency:      entry.Currency,
				TransactionID: entry.ID,
				CreditedAt:    now,
			},
		}); err != nil {
			return err
		}
		credited = true
		return nil
	})
	return credited, err
}

func (s *Scanner) sweep(ctx context.Context, snap controls.Snapshot, result *RunResult) error {
	credited, err := s.repo.ListDepositsByStatus(ctx, []enums.DepositStatus{enums.DepositStatusCredited})
	if err != nil {
		s.metrics.IncError(PhaseSweep)
		return fmt.Errorf("list credited deposits: %w", err)
	}

	dest := s.sweeper.SweepDestination()
	var errs error
	for _, d := range credited {
		if d.SweepAttempts >= s.maxAttempts {
			continue
		}
		swept, err := s.sweepOne(ctx, snap, d, dest)
		if err != nil {
			s.metrics.IncError(PhaseSweep)
			result.SweepFailed++
			errs = multierr.Append(errs, fmt.Errorf("sweep %s: %w", d.TxHash, err))
			continue
		}
		if swept {
			result.Swept++
		}
	}
	s.metrics.AddProcessed(PhaseSweep, result.Swept)
	return errs
}

// sweepOne moves a credited deposit to sweep_pending before broadcasting.
// Once a hash exists only a mined revert sends the deposit back to credited;
// any other failure leaves a submitted sweep for settleSweeps to resolve.
func (s *Scanner) sweepOne(ctx context.Context, snap controls.Snapshot, d models.BlockchainDeposit, dest string) (bool, error) {
	affected, err := s.repo.TransitionDeposit(ctx, d.ID, enums.DepositStatusCredited, enums.DepositStatusSweepPending, map[string]any{
		"updated_at": s.now().UTC(),
	})
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	ctx = s.logg.WithDepositID(ctx, d.ID.String())
	hash, sweepErr := s.transfer(ctx, snap, d)
	// The transfer may have reached the chain, so bookkeeping outlives the pass.
	bookCtx := context.WithoutCancel(ctx)
	switch {
	case sweepErr == nil:
		if err := s.finishSweep(bookCtx, d, nil, dest, hash); err != nil {
			s.logg.Error(s.logg.WithTxHash(ctx, hash), "sweep landed but could not be recorded", err)
			return false, err
		}
		return true, nil
	case broadcastUnsettled(hash, sweepErr):
		if err := s.submitSweep(bookCtx, d, dest, hash, sweepErr); err != nil {
			s.logg.Error(s.logg.WithTxHash(ctx, hash), "sweep broadcast could not be recorded", err)
			return false, multierr.Append(sweepErr, err)
		}
		return false, sweepErr
	}

	if err := s.failSweep(bookCtx, d, nil, dest, hash, sweepErr); err != nil {
		return false, multierr.Append(sweepErr, err)
	}
	return false, sweepErr
}

func broadcastUnsettled(hash string, err error) bool {
	if masterwallet.IsUnconfirmed(err) {
		return true
	}
	return hash != "" && !errors.Is(err, masterwallet.ErrTransferReverted)
}

// submitSweep records a broadcast whose receipt is unknown. The deposit stays
// at sweep_pending until settleSweeps sees the receipt.
func (s *Scanner) submitSweep(ctx context.Context, d models.BlockchainDeposit, dest, hash string, cause error) error {
	msg := cause.Error()
	txHash := hash
	sweep := &models.DepositSweep{
		DepositID:    d.ID,
		FromAddress:  d.ToAddress,
		ToAddress:    dest,
		Amount:       d.Amount,
		Status:       enums.SweepStatusSubmitted,
		TxHash:       &txHash,
		ErrorMessage: &msg,
	}
	if err := s.repo.CreateSweep(ctx, sweep); err != nil {
		return err
	}
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"tx_hash": hash,
		"error":   msg,
	}), "deposit sweep outcome unknown")
	return nil
}

// settleSweeps resolves deposits left at sweep_pending by an earlier pass.
// A submitted sweep settles from its receipt; a stale deposit with no
// broadcast on record goes back to credited.
func (s *Scanner) settleSweeps(ctx context.Context, result *RunResult) error {
	pending, err := s.repo.ListDepositsByStatus(ctx, []enums.DepositStatus{enums.DepositStatusSweepPending})
	if err != nil {
		s.metrics.IncError(PhaseSettle)
		return fmt.Errorf("list sweep pending deposits: %w", err)
	}

	var errs error
	settled := 0
	for _, d := range pending {
		done, err := s.settleOne(ctx, d)
		if err != nil {
			s.metrics.IncError(PhaseSettle)
			errs = multierr.Append(errs, fmt.Errorf("settle sweep %s: %w", d.TxHash, err))
			continue
		}
		switch done {
		case enums.DepositStatusSwept:
			result.Swept++
			settled++
		case enums.DepositStatusCredited:
			result.SweepFailed++
			settled++
		default:
			result.SweepPending++
		}
	}
	s.metrics.AddProcessed(PhaseSettle, settled)
	return errs
}

// settleOne returns the status the deposit ended in.
func (s *Scanner) settleOne(ctx context.Context, d models.BlockchainDeposit) (enums.DepositStatus, error) {
	ctx = s.logg.WithDepositID(ctx, d.ID.String())
	sweeps, err := s.repo.ListSweeps(ctx, d.ID)
	if err != nil {
		return d.Status, err
	}
	var last *models.DepositSweep
	if len(sweeps) > 0 {
		last = &sweeps[len(sweeps)-1]
	}

	if last == nil || last.Status != enums.SweepStatusSubmitted || last.TxHash == nil {
		if s.now().Sub(d.UpdatedAt) < s.staleAfter {
			return d.Status, nil
		}
		if err := s.failSweep(ctx, d, nil, s.sweeper.SweepDestination(), "", errSweepInterrupted); err != nil {
			return d.Status, err
		}
		return enums.DepositStatusCredited, nil
	}

	hash := *last.TxHash
	receipt, err := s.chain.TransactionReceipt(ctx, hash)
	if errors.Is(err, chain.ErrReceiptPending) {
		return d.Status, nil
	}
	if err != nil {
		return d.Status, err
	}
	if !receipt.Success {
		if err := s.failSweep(ctx, d, last, last.ToAddress, hash, errSweepReverted); err != nil {
			return d.Status, err
		}
		return enums.DepositStatusCredited, nil
	}
	if err := s.finishSweep(ctx, d, last, last.ToAddress, hash); err != nil {
		return d.Status, err
	}
	s.logg.Info(s.logg.WithTxHash(ctx, hash), "submitted deposit sweep settled")
	return enums.DepositStatusSwept, nil
}

func (s *Scanner) transfer(ctx context.Context, snap controls.Snapshot, d models.BlockchainDeposit) (string, error) {
	addr, err := s.repo.FindAddress(ctx, d.DepositAddressID)
	if err != nil {
		return "", fmt.Errorf("load deposit address: %w", err)
	}
	plaintext, err := s.keys.Decrypt(addr.EncryptedKey)
	if err != nil {
		return "", fmt.Errorf("decrypt deposit key: %w", err)
	}
	key, err := chain.KeyFromHex(plaintext)
	if err != nil {
		return "", fmt.Errorf("parse deposit key: %w", err)
	}
	defer chain.ZeroKey(key)
	return s.sweeper.Sweep(ctx, snap, key, d.Amount)
}

// finishSweep marks the deposit swept. A submitted sweep row is completed in
// place; otherwise a completed row is inserted.
func (s *Scanner) finishSweep(ctx context.Context, d models.BlockchainDeposit, submitted *models.DepositSweep, dest, hash string) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now().UTC()
		affected, err := repo.TransitionDeposit(ctx, d.ID, enums.DepositStatusSweepPending, enums.DepositStatusSwept, map[string]any{
			"swept_at": now,
		})
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}

		var sweepID uuid.UUID
		if submitted != nil {
			sweepID = submitted.ID
			if _, err := repo.UpdateSweep(ctx, submitted.ID, enums.SweepStatusSubmitted, map[string]any{
				"status":        enums.SweepStatusCompleted,
				"completed_at":  now,
				"error_message": nil,
			}); err != nil {
				return err
			}
		} else {
			txHash := hash
			sweep := &models.DepositSweep{
				DepositID:   d.ID,
				FromAddress: d.ToAddress,
				ToAddress:   dest,
				Amount:      d.Amount,
				Status:      enums.SweepStatusCompleted,
				TxHash:      &txHash,
				CompletedAt: &now,
			}
			if err := repo.CreateSweep(ctx, sweep); err != nil {
				return err
			}
			sweepID = sweep.ID
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDepositSwept,
			AggregateType: enums.AggregateDeposit,
			AggregateID:   d.ID,
			Data:          sweepEvent(d, sweepID, dest, hash, d.SweepAttempts+1, nil),
		})
	})
}

// failSweep records the attempt and hands the deposit back to credited so the
// next pass retries it. The user's credit is untouched.
func (s *Scanner) failSweep(ctx context.Context, d models.BlockchainDeposit, submitted *models.DepositSweep, dest, hash string, cause error) error {
	attempts := d.SweepAttempts + 1
	exhausted := attempts >= s.maxAttempts
	moved := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		affected, err := repo.TransitionDeposit(ctx, d.ID, enums.DepositStatusSweepPending, enums.DepositStatusCredited, map[string]any{
			"sweep_attempts": attempts,
		})
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		moved = true

		msg := cause.Error()
		var sweepID uuid.UUID
		if submitted != nil {
			sweepID = submitted.ID
			if _, err := repo.UpdateSweep(ctx, submitted.ID, enums.SweepStatusSubmitted, map[string]any{
				"status":        enums.SweepStatusFailed,
				"error_message": msg,
			}); err != nil {
				return err
			}
		} else {
			sweep := &models.DepositSweep{
				DepositID:    d.ID,
				FromAddress:  d.ToAddress,
				ToAddress:    dest,
				Amount:       d.Amount,
				Status:       enums.SweepStatusFailed,
				ErrorMessage: &msg,
			}
			if hash != "" {
				txHash := hash
				sweep.TxHash = &txHash
			}
			if err := repo.CreateSweep(ctx, sweep); err != nil {
				return err
			}
			sweepID = sweep.ID
		}
		eventType := enums.EventDepositSweepFailed
		if exhausted {
			eventType = enums.EventDepositSweepExhausted
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateDeposit,
			AggregateID:   d.ID,
			Data:          sweepEvent(d, sweepID, dest, hash, attempts, cause),
		})
	})
	if err != nil || !moved {
		return err
	}
	logCtx := s.logg.WithField(ctx, "sweep_attempts", attempts)
	if exhausted {
		s.logg.Error(logCtx, "deposit sweep attempts exhausted", cause)
	} else {
		s.logg.Warn(s.logg.WithField(logCtx, "error", cause.Error()), "deposit sweep failed")
	}
	return nil
}

func sweepEvent(d models.BlockchainDeposit, sweepID uuid.UUID, dest, hash string, attempts int, cause error) payloads.DepositSweepEvent {
	evt := payloads.DepositSweepEvent{
		DepositID:   d.ID,
		SweepID:     sweepID,
		FromAddress: d.ToAddress,
		ToAddress:   dest,
		Amount:      d.Amount,
		TxHash:      hash,
		Attempts:    attempts,
	}
	if cause != nil {
		evt.Error = cause.Error()
	}
	return evt
}

func creditDescription(txHash string) string {
	short := txHash
	if len(short) > 16 {
		short = short[:16]
	}
	return fmt.Sprintf("Blockchain deposit - TX: %s...", short)
}

// scanStart re-covers the last few blocks of the previous pass and never
// reaches further back than the lookback window.
func scanStart(last, current, rollback, lookback uint64) uint64 {
	floor := saturatingSub(current, lookback)
	start := saturatingSub(last, rollback)
	if start < floor {
		return floor
	}
	return start
}

func confirmationsAt(current, block uint64) int {
	if current < block {
		return 0
	}
	return int(current-block) + 1
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
