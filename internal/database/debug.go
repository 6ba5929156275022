package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mrlokans/crudkit/internal/config"
	"github.com/mrlokans/crudkit/internal/logging"
)

const startedAtKey = "crudkit:started_at"

// Query is one executed statement captured during a request.
type Query struct {
	Operation string
	Table     string
	SQL       string
	Vars      []any
	Duration  time.Duration
}

// Recorder collects the statements run with a context carrying it.
type Recorder struct {
	mu      sync.Mutex
	queries []Query
}

func (r *Recorder) add(q Query) {
	r.mu.Lock()
	r.queries = append(r.queries, q)
	r.mu.Unlock()
}

func (r *Recorder) Queries() []Query {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Query, len(r.queries))
	copy(out, r.queries)
	return out
}

type recorderKey struct{}

// WithRecorder returns a context whose statements are appended to rec.
func WithRecorder(ctx context.Context, rec *Recorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, rec)
}

// RecorderFrom returns the recorder attached to ctx, or nil.
func RecorderFrom(ctx context.Context) *Recorder {
	if ctx == nil {
		return nil
	}
	rec, _ := ctx.Value(recorderKey{}).(*Recorder)
	return rec
}

func registerTimingCallbacks(db *gorm.DB, hist *prometheus.HistogramVec) error {
	cb := db.Callback()
	err := errors.Join(
		cb.Create().Before("gorm:create").Register("crudkit:before_create", markStart),
		cb.Create().After("gorm:create").Register("crudkit:after_create", observe("create", hist)),
		cb.Query().Before("gorm:query").Register("crudkit:before_query", markStart),
		cb.Query().After("gorm:query").Register("crudkit:after_query", observe("query", hist)),
		cb.Update().Before("gorm:update").Register("crudkit:before_update", markStart),
		cb.Update().After("gorm:update").Register("crudkit:after_update", observe("update", hist)),
		cb.Delete().Before("gorm:delete").Register("crudkit:before_delete", markStart),
		cb.Delete().After("gorm:delete").Register("crudkit:after_delete", observe("delete", hist)),
		cb.Row().Before("gorm:row").Register("crudkit:before_row", markStart),
		cb.Row().After("gorm:row").Register("crudkit:after_row", observe("row", hist)),
		cb.Raw().Before("gorm:raw").Register("crudkit:before_raw", markStart),
		cb.Raw().After("gorm:raw").Register("crudkit:after_raw", observe("raw", hist)),
	)
	if err != nil {
		return fmt.Errorf("failed to register timing callbacks: %w", err)
	}
	return nil
}

func markStart(db *gorm.DB) {
	db.InstanceSet(startedAtKey, time.Now())
}

func observe(op string, hist *prometheus.HistogramVec) func(*gorm.DB) {
	return func(db *gorm.DB) {
		v, ok := db.InstanceGet(startedAtKey)
		if !ok {
			return
		}
		started, ok := v.(time.Time)
		if !ok {
			return
		}
		elapsed := time.Since(started)
		table := db.Statement.Table
		if hist != nil {
			hist.WithLabelValues(op, table).Observe(elapsed.Seconds())
		}
		if rec := RecorderFrom(db.Statement.Context); rec != nil {
			rec.add(Query{
				Operation: op,
				Table:     table,
				SQL:       db.Statement.SQL.String(),
				Vars:      append([]any(nil), db.Statement.Vars...),
				Duration:  elapsed,
			})
		}
	}
}

// QueryRecorder attaches a Recorder to each request context when debug mode
// is on, then warns about requests that ran more than AccessTimes statements
// and about statements slower than SlowTime milliseconds.
func QueryRecorder(cfg config.Database) gin.HandlerFunc {
	if !cfg.Debug || (cfg.SlowTime <= 0 && cfg.AccessTimes <= 0) {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		rec := &Recorder{}
		c.Request = c.Request.WithContext(WithRecorder(c.Request.Context(), rec))
		c.Next()

		queries := rec.Queries()
		if len(queries) == 0 {
			return
		}
		path := c.Request.URL.Path
		if cfg.AccessTimes > 0 && len(queries) > cfg.AccessTimes {
			logging.L().Warn("too many queries in request",
				zap.String("path", path), zap.Int("count", len(queries)), zap.Int("limit", cfg.AccessTimes))
		}
		if cfg.SlowTime <= 0 {
			return
		}
		for _, q := range queries {
			ms := float64(q.Duration) / float64(time.Millisecond)
			if ms > cfg.SlowTime {
				logging.L().Warn("slow query",
					zap.String("path", path),
					zap.Float64("duration_ms", ms),
					zap.String("statement", q.SQL),
					zap.String("parameters", logging.LogData(q.Vars)))
			}
		}
	}
}
