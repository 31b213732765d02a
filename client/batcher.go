package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

const (
	// DefaultMaxBatchSize is the default number of calls aggregated per wire batch.
	DefaultMaxBatchSize = 20
	// DefaultMaxBatchWait is the default window in which calls are coalesced.
	DefaultMaxBatchWait = 10 * time.Millisecond
)

// BatcherConfig tunes call aggregation.
type BatcherConfig struct {
	// MaxBatchSize flushes a batch when this many calls are pending.
	MaxBatchSize int
	// MaxBatchWait flushes a batch this long after its first call was scheduled.
	MaxBatchWait time.Duration
}

func DefaultBatcherConfig() *BatcherConfig {
	return &BatcherConfig{
		MaxBatchSize: DefaultMaxBatchSize,
		MaxBatchWait: DefaultMaxBatchWait,
	}
}

func (c *BatcherConfig) Check() error {
	if c.MaxBatchSize < 1 {
		return fmt.Errorf("expected at least 1 request per batch, but max is: %d", c.MaxBatchSize)
	}
	if c.MaxBatchWait < 0 {
		return fmt.Errorf("invalid batch wait: %d", c.MaxBatchWait)
	}
	return nil
}

// scheduledCall is a call waiting in the aggregation window.
type scheduledCall struct {
	elem BatchElem
	done chan error
}

// Batcher transparently aggregates individual calls into wire-level batches.
// Calls scheduled within the batch window travel in a single request packet,
// deduplicating round-trips to the endpoint. A batch is flushed when it is
// full, or when the window timer of its first call fires.
type Batcher struct {
	client *Client
	cfg    BatcherConfig
	log    log.Logger

	mu      sync.Mutex
	pending []*scheduledCall
	timer   *time.Timer
	closed  bool
}

func NewBatcher(client *Client, logger log.Logger, cfg *BatcherConfig) (*Batcher, error) {
	if cfg == nil {
		cfg = DefaultBatcherConfig()
	}
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("bad batcher config: %w", err)
	}
	return &Batcher{client: client, cfg: *cfg, log: logger}, nil
}

// ScheduleCall enqueues a call into the current batch window and blocks until
// the batch round-trip completed. The result is unmarshaled into result.
func (b *Batcher) ScheduleCall(ctx context.Context, result any, method string, args ...any) error {
	call := &scheduledCall{
		elem: BatchElem{Method: method, Args: args, Result: result},
		done: make(chan error, 1),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("batcher closed, cannot schedule %s", method)
	}
	b.pending = append(b.pending, call)
	switch {
	case len(b.pending) >= b.cfg.MaxBatchSize:
		b.flushLocked()
	case len(b.pending) == 1:
		// first call of a fresh window, arm the flush timer
		b.timer = time.AfterFunc(b.cfg.MaxBatchWait, b.flushTimer)
	}
	b.mu.Unlock()

	select {
	case err := <-call.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Batcher) flushTimer() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// flushLocked takes the pending batch and dispatches it in the background.
// The caller must hold b.mu.
func (b *Batcher) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		return
	}
	batch := b.pending
	b.pending = nil
	go b.dispatch(batch)
}

func (b *Batcher) dispatch(batch []*scheduledCall) {
	elems := make([]BatchElem, len(batch))
	for i, call := range batch {
		elems[i] = call.elem
	}
	// The batch is sent under its own deadline: caller contexts only govern
	// their own wait, a canceled caller must not fail the calls of others.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := b.client.BatchCallContext(ctx, elems)
	for i, call := range batch {
		if err != nil {
			call.done <- err
		} else {
			call.done <- elems[i].Error
		}
	}
}

// Flush forces out the current window without waiting for the timer.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// Close flushes pending calls and rejects new ones.
func (b *Batcher) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
	b.closed = true
}
