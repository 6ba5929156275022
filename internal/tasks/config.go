package tasks

import (
	"time"

	"github.com/mrlokans/crudkit/internal/config"
)

// Config holds configuration for the task queue system.
type Config struct {
	// DatabasePath is the sqlite file backing the queue.
	DatabasePath string

	// Workers is the number of concurrent task workers. Default: 2
	Workers int

	// ReleaseAfter is when stuck tasks are released back to queue. Default: 15m
	ReleaseAfter time.Duration

	// CleanupInterval is how often to clean up completed tasks. Default: 1h
	CleanupInterval time.Duration

	// LogRetentionDays is how long action logs are kept. Default: 90
	LogRetentionDays int

	// LogCleanupSchedule is the cron spec of the action log purge.
	// Default: "0 3 * * *"
	LogCleanupSchedule string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DatabasePath:       config.DefaultTasksDatabasePath,
		Workers:            2,
		ReleaseAfter:       15 * time.Minute,
		CleanupInterval:    1 * time.Hour,
		LogRetentionDays:   90,
		LogCleanupSchedule: "0 3 * * *",
	}
}

// ConfigFrom fills a Config from the application configuration, keeping
// defaults for unset values.
func ConfigFrom(cfg config.Tasks) Config {
	c := DefaultConfig()
	if cfg.DatabasePath != "" {
		c.DatabasePath = cfg.DatabasePath
	}
	if cfg.Workers > 0 {
		c.Workers = cfg.Workers
	}
	if cfg.ReleaseAfter > 0 {
		c.ReleaseAfter = cfg.ReleaseAfter
	}
	if cfg.CleanupInterval > 0 {
		c.CleanupInterval = cfg.CleanupInterval
	}
	if cfg.LogRetentionDays > 0 {
		c.LogRetentionDays = cfg.LogRetentionDays
	}
	if cfg.LogCleanupSchedule != "" {
		c.LogCleanupSchedule = cfg.LogCleanupSchedule
	}
	return c
}
