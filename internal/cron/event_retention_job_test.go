package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
	"github.com/angelmondragon/loaderescrow-backend/pkg/outbox"
)

func TestEventRetentionJobKeepsAlertsLonger(t *testing.T) {
	now := time.Date(2026, 10, 14, 3, 0, 0, 0, time.UTC)
	repo := &fakeEventPurger{}
	job := newEventRetentionJob(t, repo, EventRetentionJobParams{})
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, repo.rules, 2)

	routine, alert := repo.rules[0], repo.rules[1]
	require.Equal(t, now.Add(-eventRetentionDays*24*time.Hour), routine.Cutoff)
	require.Equal(t, enums.AlertEventTypes(), routine.Except)
	require.Empty(t, routine.Only)
	require.Equal(t, now.Add(-alertEventRetentionDays*24*time.Hour), alert.Cutoff)
	require.Equal(t, enums.AlertEventTypes(), alert.Only)
	require.Contains(t, alert.Only, enums.EventWithdrawalUnconfirmed)
	require.NotContains(t, alert.Only, enums.EventDepositCredited)
	require.Equal(t, eventRetentionAttempts, routine.MinAttempts)
	require.Equal(t, eventRetentionInterval, job.Interval())
}

func TestEventRetentionJobNeverPurgesAlertsBeforeRoutineEvents(t *testing.T) {
	now := time.Date(2026, 10, 14, 3, 0, 0, 0, time.UTC)
	repo := &fakeEventPurger{}
	job := newEventRetentionJob(t, repo, EventRetentionJobParams{Retention: 90, AlertRetention: 14})
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	require.Equal(t, repo.rules[0].Cutoff, repo.rules[1].Cutoff)
}

func TestEventRetentionJobPropagatesError(t *testing.T) {
	repo := &fakeEventPurger{err: errors.New("db down")}
	job := newEventRetentionJob(t, repo, EventRetentionJobParams{})

	err := job.Run(context.Background())
	require.ErrorContains(t, err, "routine events")
	require.Len(t, repo.rules, 1)
}

func newEventRetentionJob(t *testing.T, repo *fakeEventPurger, params EventRetentionJobParams) *eventRetentionJob {
	t.Helper()
	params.Logger = quietLogger()
	params.DB = inlineTx{}
	params.Repository = repo
	jobIface, err := NewEventRetentionJob(params)
	require.NoError(t, err)
	job, ok := jobIface.(*eventRetentionJob)
	require.True(t, ok, "unexpected job type %T", jobIface)
	return job
}

type fakeEventPurger struct {
	rules []outbox.PurgeRule
	err   error
}

func (f *fakeEventPurger) PurgeRelayed(ctx context.Context, tx *gorm.DB, rule outbox.PurgeRule) (int64, error) {
	f.rules = append(f.rules, rule)
	if f.err != nil {
		return 0, f.err
	}
	return 3, nil
}

type inlineTx struct{}

func (inlineTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}
