package tasks

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mikestefanello/backlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/crudkit/internal/config"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "data", "tasks.db")
	cfg.Workers = 1

	client, err := NewClient(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func startClient(t *testing.T, client *Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	client.Start(ctx)
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		client.Stop(stopCtx)
		cancel()
	})
}

func TestNewClient(t *testing.T) {
	client := newTestClient(t)

	_, err := os.Stat(client.Config().DatabasePath)
	assert.NoError(t, err, "tasks database should be created")
	assert.False(t, client.Started())
}

func TestClientStartStop(t *testing.T) {
	client := newTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client.Start(ctx)
	client.Start(ctx) // second start is a no-op
	assert.True(t, client.Started())

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	assert.True(t, client.Stop(stopCtx), "stop should succeed gracefully")
}

func TestStopWithoutStart(t *testing.T) {
	client := newTestClient(t)
	assert.True(t, client.Stop(context.Background()))
}

type recordingWriter struct {
	mu      sync.Mutex
	entries []WriteActionLogTask
	written chan struct{}
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{written: make(chan struct{}, 8)}
}

func (w *recordingWriter) WriteActionLog(_ context.Context, entry WriteActionLogTask) error {
	w.mu.Lock()
	w.entries = append(w.entries, entry)
	w.mu.Unlock()
	w.written <- struct{}{}
	return nil
}

func (w *recordingWriter) Entries() []WriteActionLogTask {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]WriteActionLogTask(nil), w.entries...)
}

func TestEnqueueActionLog_Queued(t *testing.T) {
	client := newTestClient(t)
	writer := newRecordingWriter()
	client.Register(NewWriteActionLogQueue(writer))
	startClient(t, client)

	err := EnqueueActionLog(context.Background(), client, nil, WriteActionLogTask{
		Username: "admin",
		Module:   "users",
		Action:   "add",
		Success:  true,
	})
	require.NoError(t, err)

	select {
	case <-writer.written:
	case <-time.After(5 * time.Second):
		t.Fatal("action log was not written within timeout")
	}

	entries := writer.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "users", entries[0].Module)
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestEnqueueActionLog_SynchronousFallback(t *testing.T) {
	writer := newRecordingWriter()

	err := EnqueueActionLog(context.Background(), nil, writer, WriteActionLogTask{Module: "roles"})
	require.NoError(t, err)
	require.Len(t, writer.Entries(), 1)

	// a client that was never started also falls back
	client := newTestClient(t)
	require.NoError(t, EnqueueActionLog(context.Background(), client, writer, WriteActionLogTask{Module: "users"}))
	assert.Len(t, writer.Entries(), 2)

	assert.Error(t, EnqueueActionLog(context.Background(), nil, nil, WriteActionLogTask{}))
}

type fakeCleaner struct {
	cutoff chan time.Time
}

func (f *fakeCleaner) DeleteActionLogsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff <- cutoff
	return 3, nil
}

func TestCleanupActionLogsProcessor(t *testing.T) {
	cleaner := &fakeCleaner{cutoff: make(chan time.Time, 1)}
	process := CleanupActionLogsProcessor(cleaner)

	require.NoError(t, process(context.Background(), CleanupActionLogsTask{RetentionDays: 10}))
	cutoff := <-cleaner.cutoff
	assert.WithinDuration(t, time.Now().Add(-10*24*time.Hour), cutoff, time.Minute)

	require.NoError(t, process(context.Background(), CleanupActionLogsTask{}))
	cutoff = <-cleaner.cutoff
	assert.WithinDuration(t, time.Now().Add(-90*24*time.Hour), cutoff, time.Minute)

	assert.Error(t, CleanupActionLogsProcessor(nil)(context.Background(), CleanupActionLogsTask{}))
}

func TestCleanupActionLogsQueue(t *testing.T) {
	client := newTestClient(t)
	cleaner := &fakeCleaner{cutoff: make(chan time.Time, 1)}
	client.Register(NewCleanupActionLogsQueue(cleaner))
	assert.True(t, client.Registered("cleanup_action_logs"))
	assert.False(t, client.Registered("write_action_log"))

	ids, err := client.Enqueue(context.Background(), CleanupActionLogsTask{RetentionDays: 1})
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	startClient(t, client)

	select {
	case <-cleaner.cutoff:
	case <-time.After(5 * time.Second):
		t.Fatal("cleanup task was not executed within timeout")
	}
}

func TestScheduleActionLogCleanup(t *testing.T) {
	client := newTestClient(t)

	it, err := ScheduleActionLogCleanup(client)
	require.NoError(t, err)
	defer it.Stop()
	assert.False(t, it.Next().IsZero())

	cfg := client.Config()
	cfg.LogCleanupSchedule = "not a schedule"
	bad := &Client{cfg: cfg}
	_, err = ScheduleActionLogCleanup(bad)
	assert.Error(t, err)
}

func TestTaskConfigs(t *testing.T) {
	tests := []struct {
		name  string
		cfg   backlite.QueueConfig
		queue string
	}{
		{"write action log", WriteActionLogTask{}.Config(), "write_action_log"},
		{"cleanup action logs", CleanupActionLogsTask{}.Config(), "cleanup_action_logs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.queue, tt.cfg.Name)
			assert.Equal(t, 3, tt.cfg.MaxAttempts)
			assert.NotNil(t, tt.cfg.Retention)
		})
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.Tasks{Workers: 4, LogRetentionDays: 7})
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 7, cfg.LogRetentionDays)
	assert.Equal(t, "0 3 * * *", cfg.LogCleanupSchedule)
	assert.Equal(t, config.DefaultTasksDatabasePath, cfg.DatabasePath)
	assert.Equal(t, 15*time.Minute, cfg.ReleaseAfter)
	assert.Equal(t, time.Hour, cfg.CleanupInterval)
}
