package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSetInterval_StopsWhenFnReturnsFalse(t *testing.T) {
	var calls atomic.Int32
	it, err := SetInterval(10*time.Millisecond, func() bool {
		return calls.Add(1) < 3
	}, false)
	require.NoError(t, err)

	select {
	case <-it.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("interval did not stop")
	}
	assert.Equal(t, int32(3), calls.Load())
	assert.True(t, it.Next().IsZero())
}

func TestSetInterval_Immediately(t *testing.T) {
	var calls atomic.Int32
	it, err := SetInterval(time.Hour, func() bool {
		calls.Add(1)
		return true
	}, true)
	require.NoError(t, err)
	defer it.Stop()

	assert.Equal(t, int32(1), calls.Load(), "first call is synchronous")
	assert.WithinDuration(t, time.Now().Add(time.Hour), it.Next(), time.Second)
}

func TestSetInterval_ImmediateFalseNeverSchedules(t *testing.T) {
	var calls atomic.Int32
	it, err := SetInterval(10*time.Millisecond, func() bool {
		calls.Add(1)
		return false
	}, true)
	require.NoError(t, err)

	<-it.Done()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	it.Stop()
}

func TestSetInterval_Stop(t *testing.T) {
	var calls atomic.Int32
	it, err := SetInterval(5*time.Millisecond, func() bool {
		calls.Add(1)
		return true
	}, false)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	it.Stop()
	it.Stop()

	stopped := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load())
}

func TestSetInterval_InvalidInterval(t *testing.T) {
	_, err := SetInterval(0, func() bool { return true }, false)
	assert.Error(t, err)
}

func TestSchedule(t *testing.T) {
	it, err := Schedule("@every 1h", func() bool { return true })
	require.NoError(t, err)
	defer it.Stop()
	assert.WithinDuration(t, time.Now().Add(time.Hour), it.Next(), 2*time.Second)

	_, err = Schedule("not a spec", func() bool { return true })
	assert.Error(t, err)
}

func TestSetTimeout(t *testing.T) {
	fired := make(chan struct{})
	SetTimeout(5*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timeout did not fire")
	}

	var calls atomic.Int32
	to := SetTimeout(time.Hour, func() { calls.Add(1) })
	assert.True(t, to.Stop())
	assert.False(t, to.Stop())
	assert.Zero(t, calls.Load())
}

func TestRunAt(t *testing.T) {
	_, err := RunAt(time.Now().Add(-time.Minute), func() {})
	assert.ErrorIs(t, err, ErrTimeInPast)

	fired := make(chan struct{})
	to, err := RunAt(time.Now().Add(10*time.Millisecond), func() { close(fired) })
	require.NoError(t, err)
	require.NotNil(t, to)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("RunAt did not fire")
	}
}

func TestParseTime(t *testing.T) {
	got, err := ParseTime("2023-06-28 14:53:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 6, 28, 14, 53, 0, 0, time.Local), got)

	got, err = ParseTime("1629811200")
	require.NoError(t, err)
	assert.Equal(t, int64(1629811200), got.Unix())

	_, err = ParseTime("yesterday")
	assert.Error(t, err)
}
