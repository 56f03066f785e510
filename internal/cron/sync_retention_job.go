package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/fieldsync/pkg/logger"
)

const syncRetentionDays = 14

type SyncRetentionJobParams struct {
	Logger    *logger.Logger
	Queue     doneOperationPruner
	Retention int
}

type doneOperationPruner interface {
	DeleteDoneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

func NewSyncRetentionJob(params SyncRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Queue == nil {
		return nil, fmt.Errorf("sync queue required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = syncRetentionDays
	}
	return &syncRetentionJob{
		logg:      params.Logger,
		queue:     params.Queue,
		retention: retention,
		now:       time.Now,
	}, nil
}

type syncRetentionJob struct {
	logg      *logger.Logger
	queue     doneOperationPruner
	retention int
	now       func() time.Time
}

func (j *syncRetentionJob) Name() string { return "sync-queue-retention" }

func (j *syncRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)
	deleted, err := j.queue.DeleteDoneBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("sync queue retention: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	}), "sync queue retention complete")
	return nil
}
