package task

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackgroundTaskManager_RunsUntilStopped(t *testing.T) {
	m := NewBackgroundTaskManager("test_runs_until_stopped_")
	var calls int32
	m.Register(func() { atomic.AddInt32(&calls, 1) }, 5*time.Millisecond, "counter")

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 3 }, time.Second, time.Millisecond)
	assert.False(t, m.StopAll(time.Second))

	stopped := atomic.LoadInt32(&calls)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, atomic.LoadInt32(&calls))

	// A second stop is harmless.
	assert.False(t, m.StopAll(time.Second))
}
