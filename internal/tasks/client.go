package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mikestefanello/backlite"
	"go.uber.org/zap"

	"github.com/mrlokans/crudkit/internal/logging"
)

// Client runs action log queues on backlite over a dedicated sqlite file.
type Client struct {
	queue *backlite.Client
	db    *sql.DB
	cfg   Config

	mu      sync.RWMutex
	started bool
	names   []string
}

// NewClient opens the queue database at cfg.DatabasePath and installs the
// backlite schema.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}

	db, err := openQueueDB(cfg.DatabasePath, cfg.Workers)
	if err != nil {
		return nil, err
	}

	queue, err := backlite.NewClient(backlite.ClientConfig{
		DB:              db,
		NumWorkers:      cfg.Workers,
		ReleaseAfter:    cfg.ReleaseAfter,
		CleanupInterval: cfg.CleanupInterval,
		Logger:          zapLogger{logging.L().Sugar().Named("tasks")},
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create queue client: %w", err)
	}
	if err := queue.Install(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to install queue schema: %w", err)
	}

	return &Client{queue: queue, db: db, cfg: cfg}, nil
}

func openQueueDB(path string, workers int) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create tasks database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open tasks database: %w", err)
	}
	// each worker holds a connection while it claims and completes a task
	db.SetMaxOpenConns(workers + 5)
	db.SetMaxIdleConns(workers + 2)
	db.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// Register adds queues. Call it before Start.
func (c *Client) Register(queues ...backlite.Queue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, q := range queues {
		c.queue.Register(q)
		c.names = append(c.names, q.Config().Name)
	}
}

// Registered reports whether a queue with the given name was registered.
func (c *Client) Registered(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Contains(c.names, name)
}

// Start launches the workers and returns immediately.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	names := append([]string(nil), c.names...)
	c.mu.Unlock()

	logging.L().Info("task queue started",
		zap.Int("workers", c.cfg.Workers),
		zap.Strings("queues", names),
	)
	c.queue.Start(ctx)
}

// Started reports whether workers are running.
func (c *Client) Started() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started
}

// Stop waits for running tasks until ctx ends. It reports whether every
// worker finished in time.
func (c *Client) Stop(ctx context.Context) bool {
	if !c.Started() {
		return true
	}

	log := logging.L()
	if !c.queue.Stop(ctx) {
		log.Warn("task queue stop timed out, running tasks were abandoned")
		return false
	}
	log.Info("task queue stopped")
	return true
}

// Close closes the queue database. Call it after Stop.
func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Enqueue saves tasks and returns their ids. Tasks saved before Start wait
// in the queue database until workers run.
func (c *Client) Enqueue(ctx context.Context, tasks ...backlite.Task) ([]string, error) {
	ids, err := c.queue.Add(tasks...).Ctx(ctx).Save()
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue tasks: %w", err)
	}
	return ids, nil
}

// Status returns the status of a task by ID.
func (c *Client) Status(ctx context.Context, taskID string) (backlite.TaskStatus, error) {
	return c.queue.Status(ctx, taskID)
}

// DB returns the queue database.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Config returns the configuration the client was created with.
func (c *Client) Config() Config {
	return c.cfg
}

// zapLogger implements backlite.Logger. backlite passes key/value pairs.
type zapLogger struct {
	log *zap.SugaredLogger
}

func (l zapLogger) Info(message string, params ...any) {
	l.log.Infow(message, params...)
}

func (l zapLogger) Error(message string, params ...any) {
	l.log.Errorw(message, params...)
}
