package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikestefanello/backlite"
	"go.uber.org/zap"

	"github.com/mrlokans/crudkit/internal/logging"
	"github.com/mrlokans/crudkit/internal/timer"
)

const defaultLogRetentionDays = 90

// ActionLogCleaner deletes action logs created before a cutoff.
type ActionLogCleaner interface {
	DeleteActionLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupActionLogsTask removes action logs older than the retention period.
type CleanupActionLogsTask struct {
	RetentionDays int `json:"retention_days"`
}

// Config returns the queue configuration for action log cleanup tasks.
func (t CleanupActionLogsTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "cleanup_action_logs",
		MaxAttempts: 3,
		Backoff:     5 * time.Minute,
		Timeout:     2 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// CleanupActionLogsProcessor creates a processor function for CleanupActionLogsTask.
func CleanupActionLogsProcessor(cleaner ActionLogCleaner) backlite.QueueProcessor[CleanupActionLogsTask] {
	return func(ctx context.Context, task CleanupActionLogsTask) error {
		if cleaner == nil {
			return errors.New("action log cleaner not configured")
		}

		days := task.RetentionDays
		if days <= 0 {
			days = defaultLogRetentionDays
		}
		cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)

		deleted, err := cleaner.DeleteActionLogsBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("cleanup action logs: %w", err)
		}

		logging.L().Info("cleaned up action logs",
			zap.Int64("deleted", deleted),
			zap.Int("retention_days", days),
		)
		return nil
	}
}

// NewCleanupActionLogsQueue creates a backlite queue for action log cleanup.
func NewCleanupActionLogsQueue(cleaner ActionLogCleaner) backlite.Queue {
	return backlite.NewQueue(CleanupActionLogsProcessor(cleaner))
}

// ScheduleActionLogCleanup enqueues a CleanupActionLogsTask on the cron
// schedule of the client's configuration. Stop the returned interval on
// shutdown.
func ScheduleActionLogCleanup(c *Client) (*timer.Interval, error) {
	cfg := c.Config()
	return timer.Schedule(cfg.LogCleanupSchedule, func() bool {
		_, err := c.Enqueue(context.Background(), CleanupActionLogsTask{RetentionDays: cfg.LogRetentionDays})
		if err != nil {
			logging.L().Error("failed to enqueue action log cleanup", zap.Error(err))
		}
		return true
	})
}
