package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/loaderescrow-backend/internal/deposits"
	"github.com/angelmondragon/loaderescrow-backend/pkg/logger"
)

type depositScanner interface {
	Run(ctx context.Context) (deposits.RunResult, error)
}

type DepositScanJobParams struct {
	Logger   *logger.Logger
	Scanner  depositScanner
	Interval time.Duration
}

// NewDepositScanJob runs one scanner pass per interval.
func NewDepositScanJob(params DepositScanJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Scanner == nil {
		return nil, fmt.Errorf("scanner required")
	}
	return &depositScanJob{
		logg:     params.Logger,
		scanner:  params.Scanner,
		interval: params.Interval,
	}, nil
}

type depositScanJob struct {
	logg     *logger.Logger
	scanner  depositScanner
	interval time.Duration
}

func (j *depositScanJob) Name() string { return "deposit-scan" }

func (j *depositScanJob) Interval() time.Duration { return j.interval }

func (j *depositScanJob) Run(ctx context.Context) error {
	result, err := j.scanner.Run(ctx)
	if err != nil {
		return fmt.Errorf("deposit scan: %w", err)
	}
	if result.Skipped {
		j.logg.Info(j.logg.WithField(ctx, "reason", result.SkipReason), "deposit scan skipped")
		return nil
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"current_block": result.CurrentBlock,
		"from_block":    result.FromBlock,
		"discovered":    result.Discovered,
		"confirmed":     result.Confirmed,
		"credited":      result.Credited,
		"swept":         result.Swept,
		"sweep_failed":  result.SweepFailed,
		"sweep_pending": result.SweepPending,
		"errors":        result.Errors,
	})
	j.logg.Info(logCtx, "deposit scan complete")
	return nil
}
