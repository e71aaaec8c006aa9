package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryKeepsSettlementJobOrder(t *testing.T) {
	scan, err := NewDepositScanJob(DepositScanJobParams{Logger: quietLogger(), Scanner: &fakeScanner{}, Interval: 15 * time.Second})
	require.NoError(t, err)
	deadline, err := NewLiabilityDeadlineJob(LiabilityDeadlineJobParams{Logger: quietLogger(), Loaders: &fakeCloser{}})
	require.NoError(t, err)
	retention, err := NewEventRetentionJob(EventRetentionJobParams{Logger: quietLogger(), DB: inlineTx{}, Repository: &fakeEventPurger{}})
	require.NoError(t, err)

	registry := NewRegistry(scan, deadline)
	registry.Register(nil)
	registry.Register(retention)

	jobs := registry.Jobs()
	names := make([]string, 0, len(jobs))
	for _, job := range jobs {
		names = append(names, job.Name())
	}
	assert.Equal(t, []string{"deposit-scan", "liability-deadline", "event-retention"}, names)

	jobs[0] = nil
	assert.NotNil(t, registry.Jobs()[0], "registry slice leaked to caller")
}
