package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/mikestefanello/backlite"
	"go.uber.org/zap"

	"github.com/mrlokans/crudkit/internal/logging"
)

// ActionLogWriter persists operation log entries.
type ActionLogWriter interface {
	WriteActionLog(ctx context.Context, entry WriteActionLogTask) error
}

// WriteActionLogTask carries one operation log entry to be persisted.
type WriteActionLogTask struct {
	Username  string    `json:"username"`
	Module    string    `json:"module"`
	Action    string    `json:"action"`
	Success   bool      `json:"success"`
	Request   string    `json:"request"`
	Response  string    `json:"response"`
	IP        string    `json:"ip"`
	CreatedAt time.Time `json:"created_at"`
}

// Config returns the queue configuration for action log writes.
func (t WriteActionLogTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "write_action_log",
		MaxAttempts: 3,
		Backoff:     10 * time.Second,
		Timeout:     30 * time.Second,
		Retention: &backlite.Retention{
			Duration:   time.Hour,
			OnlyFailed: true,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// WriteActionLogProcessor creates a processor function for WriteActionLogTask.
func WriteActionLogProcessor(writer ActionLogWriter) backlite.QueueProcessor[WriteActionLogTask] {
	return func(ctx context.Context, task WriteActionLogTask) error {
		if writer == nil {
			return errors.New("action log writer not configured")
		}
		return writer.WriteActionLog(ctx, task)
	}
}

// NewWriteActionLogQueue creates a backlite queue for action log writes.
func NewWriteActionLogQueue(writer ActionLogWriter) backlite.Queue {
	return backlite.NewQueue(WriteActionLogProcessor(writer))
}

// EnqueueActionLog queues entry on c, or writes it synchronously through
// writer when the queue is unavailable or enqueueing fails.
func EnqueueActionLog(ctx context.Context, c *Client, writer ActionLogWriter, entry WriteActionLogTask) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if c != nil && c.Started() {
		_, err := c.Enqueue(ctx, entry)
		if err == nil {
			return nil
		}
		logging.L().Warn("failed to enqueue action log, writing synchronously", zap.Error(err))
	}
	if writer == nil {
		return errors.New("action log writer not configured")
	}
	return writer.WriteActionLog(ctx, entry)
}
