// Package timer runs functions periodically, after a delay or at a given
// time. Periodic work is driven by robfig/cron.
package timer

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mrlokans/crudkit/internal/logging"
)

// ErrTimeInPast is returned by RunAt for a time that already passed.
var ErrTimeInPast = errors.New("run time is in the past")

// DefaultTimeLayout is the layout accepted by ParseTime.
const DefaultTimeLayout = "2006-01-02 15:04:05"

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

// CronLogger adapts the package zap logger to cron.Logger.
func CronLogger() cron.Logger {
	return cronLogger{sugar: logging.L().Sugar()}
}

// everySchedule fires at a constant delay after the previous activation.
// Unlike cron.Every it keeps sub-second precision.
type everySchedule struct {
	delay time.Duration
}

func (s everySchedule) Next(t time.Time) time.Time {
	return t.Add(s.delay)
}

// Interval is a periodic job.
type Interval struct {
	cron     *cron.Cron
	finished atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

// SetInterval calls fn every interval until fn returns false or Stop is
// called. With immediately set, fn runs once synchronously before the
// first interval. A run that is still in progress when the next one is due
// causes that next run to be skipped.
func SetInterval(interval time.Duration, fn func() bool, immediately bool) (*Interval, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", interval)
	}
	return schedule(everySchedule{delay: interval}, fn, immediately), nil
}

// Schedule runs fn on a cron spec such as "@every 1h", "@daily" or
// "0 3 * * *", until fn returns false or Stop is called.
func Schedule(spec string, fn func() bool) (*Interval, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return schedule(sched, fn, false), nil
}

func schedule(sched cron.Schedule, fn func() bool, immediately bool) *Interval {
	logger := CronLogger()
	it := &Interval{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		done: make(chan struct{}),
	}

	if immediately && !fn() {
		it.stopOnce.Do(func() { close(it.done) })
		return it
	}

	it.cron.Schedule(sched, cron.FuncJob(func() {
		if it.finished.Load() {
			return
		}
		if !fn() {
			it.finished.Store(true)
			// Stop waits for running jobs, this one included.
			go it.Stop()
		}
	}))
	it.cron.Start()
	return it
}

// Stop cancels future runs and waits for a running call to finish.
func (it *Interval) Stop() {
	it.stopOnce.Do(func() {
		<-it.cron.Stop().Done()
		close(it.done)
	})
}

// Done is closed once the interval has stopped.
func (it *Interval) Done() <-chan struct{} { return it.done }

// Next returns the next activation time, zero once stopped.
func (it *Interval) Next() time.Time {
	select {
	case <-it.done:
		return time.Time{}
	default:
	}
	if entries := it.cron.Entries(); len(entries) > 0 {
		return entries[0].Next
	}
	return time.Time{}
}

// Timeout is a pending one-shot call.
type Timeout struct {
	timer *time.Timer
}

// SetTimeout calls fn once after delay.
func SetTimeout(delay time.Duration, fn func()) *Timeout {
	return &Timeout{timer: time.AfterFunc(delay, fn)}
}

// Stop cancels the call. It reports false when fn already ran or was
// already cancelled.
func (t *Timeout) Stop() bool {
	if t == nil || t.timer == nil {
		return false
	}
	return t.timer.Stop()
}

// RunAt calls fn at the given time. A time in the past is an error; the
// current instant runs fn right away and returns a nil handle.
func RunAt(at time.Time, fn func()) (*Timeout, error) {
	delay := time.Until(at)
	if delay < 0 {
		return nil, ErrTimeInPast
	}
	if delay == 0 {
		fn()
		return nil, nil
	}
	return SetTimeout(delay, fn), nil
}

// ParseTime parses a local time in DefaultTimeLayout, or a unix timestamp.
func ParseTime(value string) (time.Time, error) {
	if sec, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(sec, 0), nil
	}
	return time.ParseInLocation(DefaultTimeLayout, value, time.Local)
}
