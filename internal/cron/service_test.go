package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/loaderescrow-backend/pkg/metrics"
)

type fakeLock struct {
	acquired bool
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.acquired {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error { f.acquired = false; return nil }

type testJob struct {
	name     string
	err      error
	runs     int
	interval time.Duration
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

type scheduledJob struct {
	testJob
}

func (s *scheduledJob) Interval() time.Duration { return s.interval }

func TestServiceRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	success := &testJob{name: "success"}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	service, err := NewService(ServiceParams{
		Logger:   quietLogger(),
		Registry: NewRegistry(success, failure),
		Lock:     &fakeLock{},
	})
	require.NoError(t, err)

	err = service.runCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fail: boom")
	assert.Equal(t, 1, success.runs)
	assert.Equal(t, 1, failure.runs)
}

func TestServiceSkipsCycleWhenLockHeld(t *testing.T) {
	job := &testJob{name: "job"}
	service, err := NewService(ServiceParams{
		Logger:   quietLogger(),
		Registry: NewRegistry(job),
		Lock:     &fakeLock{acquired: true},
	})
	require.NoError(t, err)

	require.NoError(t, service.runCycle(context.Background()))
	assert.Zero(t, job.runs)
}

func TestServiceHonoursJobInterval(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	job := &scheduledJob{testJob{name: "slow", interval: 5 * time.Minute}}
	service, err := NewService(ServiceParams{
		Logger:   quietLogger(),
		Registry: NewRegistry(job),
		Lock:     &fakeLock{},
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, service.runCycle(ctx))
	now = now.Add(time.Minute)
	require.NoError(t, service.runCycle(ctx))
	assert.Equal(t, 1, job.runs)

	now = now.Add(5 * time.Minute)
	require.NoError(t, service.runCycle(ctx))
	assert.Equal(t, 2, job.runs)
}

func TestNewServiceRequiresLock(t *testing.T) {
	_, err := NewService(ServiceParams{Logger: quietLogger()})
	assert.Error(t, err)
}

func TestServiceRecordsJobOutcomesAndLockSkips(t *testing.T) {
	reg := prometheus.NewRegistry()
	lock := &fakeLock{}
	scan := &testJob{name: "deposit-scan"}
	deadline := &testJob{name: "liability-deadline", err: errors.New("refund failed")}
	service, err := NewService(ServiceParams{
		Logger:   quietLogger(),
		Registry: NewRegistry(scan, deadline),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
	})
	require.NoError(t, err)

	require.ErrorContains(t, service.runCycle(context.Background()), "refund failed")
	lock.acquired = true
	require.NoError(t, service.runCycle(context.Background()))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	outcomes := map[string]float64{}
	var skipped float64
	for _, mf := range mfs {
		switch mf.GetName() {
		case "escrow_cron_job_runs_total":
			for _, m := range mf.GetMetric() {
				key := ""
				for _, l := range m.GetLabel() {
					key += l.GetValue() + "/"
				}
				outcomes[key] = m.GetCounter().GetValue()
			}
		case "escrow_cron_cycles_lock_skipped_total":
			skipped = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{
		"deposit-scan/success/":       1,
		"liability-deadline/failure/": 1,
	}, outcomes)
	assert.Equal(t, float64(1), skipped)
}
