package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/restaurant-liveops/pkg/logger"
	"github.com/angelmondragon/restaurant-liveops/pkg/metrics"
)

const (
	changeRetentionJobName = "change-event-retention"
	changeRetentionDays    = 7
	changeMaxAttempts      = 10
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type changeRetentionRepo interface {
	DeleteSettledBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, maxAttempts int) (int64, error)
}

type ChangeRetentionJobParams struct {
	Logger        *logger.Logger
	DB            txRunner
	Repository    changeRetentionRepo
	Metrics       *metrics.CronJobMetrics
	RetentionDays int
	MaxAttempts   int
}

// NewChangeRetentionJob prunes change_events rows the outbox publisher has
// settled. Rows still waiting to be relayed are never removed.
func NewChangeRetentionJob(params ChangeRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("change event repository required")
	}
	retention := params.RetentionDays
	if retention <= 0 {
		retention = changeRetentionDays
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = changeMaxAttempts
	}
	return &changeRetentionJob{
		logg:        params.Logger,
		db:          params.DB,
		repo:        params.Repository,
		metrics:     params.Metrics,
		retention:   retention,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}, nil
}

type changeRetentionJob struct {
	logg        *logger.Logger
	db          txRunner
	repo        changeRetentionRepo
	metrics     *metrics.CronJobMetrics
	retention   int
	maxAttempts int
	now         func() time.Time
}

func (j *changeRetentionJob) Name() string { return changeRetentionJobName }

func (j *changeRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.repo.DeleteSettledBefore(ctx, tx, cutoff, j.maxAttempts)
		if err != nil {
			return err
		}
		deleted = rows
		return nil
	})
	if err != nil {
		return fmt.Errorf("change event retention: %w", err)
	}
	j.metrics.AddDeleted(changeRetentionJobName, deleted)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"max_attempts":   j.maxAttempts,
		"rows_deleted":   deleted,
	})
	j.logg.Info(logCtx, "change event retention complete")
	return nil
}
