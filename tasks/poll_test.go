package tasks

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPollerRuns(t *testing.T) {
	var count atomic.Int64
	p := NewPoller(func() { count.Add(1) }, 10*time.Millisecond)
	p.Start()
	defer p.Stop()
	waitFor(t, func() bool { return count.Load() >= 3 }, "expected at least 3 poll ticks")
}

func TestPollerStopIdempotent(t *testing.T) {
	p := NewPoller(func() {}, 10*time.Millisecond)
	p.Start()
	p.Start() // duplicate start is a no-op
	p.Stop()
	p.Stop() // duplicate stop is a no-op
}

func TestPollerPauseResume(t *testing.T) {
	var count atomic.Int64
	p := NewPoller(func() { count.Add(1) }, 10*time.Millisecond)
	p.Start()
	defer p.Stop()

	waitFor(t, func() bool { return count.Load() >= 1 }, "poller should tick before pause")
	p.Pause()
	paused := count.Load()
	time.Sleep(50 * time.Millisecond)
	require.LessOrEqual(t, count.Load(), paused+1, "ticks should be dropped while paused")

	p.Resume()
	waitFor(t, func() bool { return count.Load() > paused+1 }, "poller should tick again after resume")
}

func TestPollerSetInterval(t *testing.T) {
	var count atomic.Int64
	p := NewPoller(func() { count.Add(1) }, time.Hour)
	p.Start()
	defer p.Stop()
	require.Equal(t, int64(0), count.Load())
	p.SetInterval(5 * time.Millisecond)
	waitFor(t, func() bool { return count.Load() >= 1 }, "interval change should take effect on the running ticker")
}
