package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
	"github.com/angelmondragon/loaderescrow-backend/pkg/logger"
	"github.com/angelmondragon/loaderescrow-backend/pkg/outbox"
)

const (
	eventRetentionDays      = 30
	alertEventRetentionDays = 180
	eventRetentionAttempts  = 5
	eventRetentionInterval  = 6 * time.Hour
)

type EventRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository eventPurger
	// Retention applies to routine escrow events, AlertRetention to events
	// an operator may still be reconciling against the chain.
	Retention      int
	AlertRetention int
	MinAttempts    int
	Interval       time.Duration
}

type eventPurger interface {
	PurgeRelayed(ctx context.Context, tx *gorm.DB, rule outbox.PurgeRule) (int64, error)
}

// NewEventRetentionJob purges relayed escrow events. Alert events are kept
// for at least as long as routine ones.
func NewEventRetentionJob(params EventRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	retention := daysOr(params.Retention, eventRetentionDays)
	alertRetention := max(daysOr(params.AlertRetention, alertEventRetentionDays), retention)
	minAttempts := params.MinAttempts
	if minAttempts <= 0 {
		minAttempts = eventRetentionAttempts
	}
	interval := params.Interval
	if interval <= 0 {
		interval = eventRetentionInterval
	}
	return &eventRetentionJob{
		logg:           params.Logger,
		db:             params.DB,
		repo:           params.Repository,
		retention:      retention,
		alertRetention: alertRetention,
		minAttempts:    minAttempts,
		interval:       interval,
		now:            time.Now,
	}, nil
}

type eventRetentionJob struct {
	logg           *logger.Logger
	db             txRunner
	repo           eventPurger
	retention      int
	alertRetention int
	minAttempts    int
	interval       time.Duration
	now            func() time.Time
}

func (j *eventRetentionJob) Name() string { return "event-retention" }

func (j *eventRetentionJob) Interval() time.Duration { return j.interval }

func (j *eventRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	alerts := enums.AlertEventTypes()
	routine := outbox.PurgeRule{
		Cutoff:      now.Add(-days(j.retention)),
		MinAttempts: j.minAttempts,
		Except:      alerts,
	}
	alert := outbox.PurgeRule{
		Cutoff:      now.Add(-days(j.alertRetention)),
		MinAttempts: j.minAttempts,
		Only:        alerts,
	}

	var routineDeleted, alertDeleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		if routineDeleted, err = j.repo.PurgeRelayed(ctx, tx, routine); err != nil {
			return fmt.Errorf("routine events: %w", err)
		}
		if alertDeleted, err = j.repo.PurgeRelayed(ctx, tx, alert); err != nil {
			return fmt.Errorf("alert events: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("event retention: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"retention_days":       j.retention,
		"alert_retention_days": j.alertRetention,
		"routine_deleted":      routineDeleted,
		"alert_deleted":        alertDeleted,
	}), "escrow event retention complete")
	return nil
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func daysOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
