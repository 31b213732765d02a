// Package tasks provides background-task primitives: an interval poller and
// channel await helpers.
package tasks

import (
	"context"
	"sync"
	"time"
)

// Poller runs a function on repeat at a set interval.
// Warning: ticks can be missed, if the function execution is slow.
type Poller struct {
	fn func()

	interval time.Duration

	ticker *time.Ticker // nil if not running
	paused bool

	mu     sync.Mutex
	ctx    context.Context // non-nil when running
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPoller(fn func(), interval time.Duration) *Poller {
	return &Poller{
		fn:       fn,
		interval: interval,
	}
}

// Start starts polling in a background routine.
// Duplicate start calls are ignored. Only one routine runs.
func (pd *Poller) Start() {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	if pd.ctx != nil {
		return // already running
	}

	pd.ctx, pd.cancel = context.WithCancel(context.Background())

	pd.ticker = time.NewTicker(pd.interval)
	ticker := pd.ticker
	ctx := pd.ctx

	pd.wg.Add(1)
	go func() {
		defer pd.wg.Done()

		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if pd.isPaused() {
					continue
				}
				pd.fn()
			case <-ctx.Done():
				return // quitting
			}
		}
	}()
}

// Stop stops the polling. Duplicate calls are ignored.
// Only if active the polling routine is stopped.
func (pd *Poller) Stop() {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	if pd.ctx == nil {
		return // not running, nothing to stop
	}
	pd.cancel()
	pd.wg.Wait()
	pd.ctx = nil
	pd.cancel = nil
	pd.ticker = nil
	pd.paused = false
}

// Pause suspends polling without tearing down the polling routine.
// The ticker keeps running; ticks are dropped until Resume.
func (pd *Poller) Pause() {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	pd.paused = true
}

// Resume re-enables polling after a Pause. No-op if not paused.
func (pd *Poller) Resume() {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	pd.paused = false
}

func (pd *Poller) isPaused() bool {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.paused
}

// SetInterval changes the polling interval.
func (pd *Poller) SetInterval(interval time.Duration) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	pd.interval = interval
	// if we're currently running, change the interval of the active ticker
	if pd.ticker != nil {
		pd.ticker.Reset(interval)
	}
}
