package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/loaderescrow-backend/internal/deposits"
	"github.com/angelmondragon/loaderescrow-backend/pkg/logger"
)

type fakeScanner struct {
	runFn func(ctx context.Context) (deposits.RunResult, error)
	calls int
}

func (f *fakeScanner) Run(ctx context.Context) (deposits.RunResult, error) {
	f.calls++
	return f.runFn(ctx)
}

type fakeCloser struct {
	closed int
	err    error
	at     time.Time
}

func (f *fakeCloser) CloseExpired(_ context.Context, now time.Time) (int, error) {
	f.at = now
	return f.closed, f.err
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

func TestDepositScanJobTreatsSkipAsSuccess(t *testing.T) {
	scanner := &fakeScanner{runFn: func(context.Context) (deposits.RunResult, error) {
		return deposits.RunResult{Skipped: true, SkipReason: "deposits_disabled"}, nil
	}}
	job, err := NewDepositScanJob(DepositScanJobParams{Logger: quietLogger(), Scanner: scanner, Interval: time.Minute})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, scanner.calls)
	assert.Equal(t, "deposit-scan", job.Name())
	assert.Equal(t, time.Minute, job.(Scheduled).Interval())
}

func TestDepositScanJobPropagatesError(t *testing.T) {
	scanner := &fakeScanner{runFn: func(context.Context) (deposits.RunResult, error) {
		return deposits.RunResult{}, errors.New("rpc down")
	}}
	job, err := NewDepositScanJob(DepositScanJobParams{Logger: quietLogger(), Scanner: scanner})
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc down")
}

func TestLiabilityDeadlineJobPassesCurrentTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	closer := &fakeCloser{closed: 2}
	jobIface, err := NewLiabilityDeadlineJob(LiabilityDeadlineJobParams{Logger: quietLogger(), Loaders: closer})
	require.NoError(t, err)
	job := jobIface.(*liabilityDeadlineJob)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.True(t, closer.at.Equal(now))
}

func TestLiabilityDeadlineJobPropagatesError(t *testing.T) {
	closer := &fakeCloser{closed: 1, err: errors.New("refund failed")}
	job, err := NewLiabilityDeadlineJob(LiabilityDeadlineJobParams{Logger: quietLogger(), Loaders: closer})
	require.NoError(t, err)

	require.Error(t, job.Run(context.Background()))
}

func TestJobConstructorsValidateDependencies(t *testing.T) {
	_, err := NewDepositScanJob(DepositScanJobParams{Logger: quietLogger()})
	assert.Error(t, err)
	_, err = NewLiabilityDeadlineJob(LiabilityDeadlineJobParams{Loaders: &fakeCloser{}})
	assert.Error(t, err)
}
