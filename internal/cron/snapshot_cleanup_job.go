package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/fieldsync/pkg/logger"
)

type snapshotSweeper interface {
	Users(ctx context.Context) []string
	CleanupExpired(ctx context.Context, userID string) int
}

type SnapshotCleanupJobParams struct {
	Logger    *logger.Logger
	Snapshots snapshotSweeper
}

func NewSnapshotCleanupJob(params SnapshotCleanupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Snapshots == nil {
		return nil, fmt.Errorf("snapshot store required")
	}
	return &snapshotCleanupJob{logg: params.Logger, snapshots: params.Snapshots}, nil
}

type snapshotCleanupJob struct {
	logg      *logger.Logger
	snapshots snapshotSweeper
}

func (j *snapshotCleanupJob) Name() string { return "snapshot-cleanup" }

func (j *snapshotCleanupJob) Run(ctx context.Context) error {
	users := j.snapshots.Users(ctx)
	removed := 0
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		removed += j.snapshots.CleanupExpired(ctx, userID)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"users":             len(users),
		"snapshots_removed": removed,
	}), "snapshot cleanup complete")
	return nil
}
