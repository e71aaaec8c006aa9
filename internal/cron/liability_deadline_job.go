package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/loaderescrow-backend/pkg/logger"
)

type expiredOrderCloser interface {
	CloseExpired(ctx context.Context, now time.Time) (int, error)
}

type LiabilityDeadlineJobParams struct {
	Logger  *logger.Logger
	Loaders expiredOrderCloser
}

// NewLiabilityDeadlineJob closes time-bound loader orders past their deadline.
func NewLiabilityDeadlineJob(params LiabilityDeadlineJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Loaders == nil {
		return nil, fmt.Errorf("loaders service required")
	}
	return &liabilityDeadlineJob{
		logg:    params.Logger,
		loaders: params.Loaders,
		now:     time.Now,
	}, nil
}

type liabilityDeadlineJob struct {
	logg    *logger.Logger
	loaders expiredOrderCloser
	now     func() time.Time
}

func (j *liabilityDeadlineJob) Name() string { return "liability-deadline" }

func (j *liabilityDeadlineJob) Run(ctx context.Context) error {
	closed, err := j.loaders.CloseExpired(ctx, j.now().UTC())
	if closed > 0 {
		j.logg.Info(j.logg.WithField(ctx, "orders_closed", closed), "expired loader orders closed")
	}
	if err != nil {
		return fmt.Errorf("close expired orders: %w", err)
	}
	return nil
}
