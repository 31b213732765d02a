package client

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/alloy-rs/alloy-sub000/tasks"
)

// DefaultPollInterval is a reasonable interval for chains with ~12s block times.
const DefaultPollInterval = 12 * time.Second

// Poller repeatedly issues an RPC call at an interval to detect new chain
// state, broadcasting each changed result to all subscribers. Consecutive
// identical results are deduplicated, so subscribers only see state changes.
type Poller struct {
	client  *Client
	log     log.Logger
	method  string
	args    []any
	timeout time.Duration

	poll *tasks.Poller

	mu        sync.Mutex
	last      json.RawMessage
	subs      map[int]chan json.RawMessage
	subIDNext int
}

func NewPoller(client *Client, logger log.Logger, method string, args []any, interval time.Duration) *Poller {
	p := &Poller{
		client:  client,
		log:     logger,
		method:  method,
		args:    args,
		timeout: interval,
		subs:    make(map[int]chan json.RawMessage),
	}
	p.poll = tasks.NewPoller(p.tick, interval)
	return p
}

// Start begins polling in the background. Duplicate starts are ignored.
func (p *Poller) Start() { p.poll.Start() }

// Stop halts polling and waits for an in-flight tick to complete.
func (p *Poller) Stop() { p.poll.Stop() }

// Pause suspends polling without dropping subscribers.
func (p *Poller) Pause() { p.poll.Pause() }

// Resume continues polling after a Pause.
func (p *Poller) Resume() { p.poll.Resume() }

// SetInterval changes the polling interval of an active poller.
func (p *Poller) SetInterval(interval time.Duration) {
	p.poll.SetInterval(interval)
	p.mu.Lock()
	p.timeout = interval
	p.mu.Unlock()
}

// Subscribe registers a channel receiving each changed poll result.
// Slow subscribers miss updates rather than blocking the poller.
func (p *Poller) Subscribe() (ch <-chan json.RawMessage, unsubscribe func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.subIDNext
	p.subIDNext++
	c := make(chan json.RawMessage, 10)
	p.subs[id] = c
	return c, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(c)
		}
	}
}

func (p *Poller) tick() {
	p.mu.Lock()
	timeout := p.timeout
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var result json.RawMessage
	if err := p.client.CallContext(ctx, &result, p.method, p.args...); err != nil {
		p.log.Warn("Polling call failed", "method", p.method, "err", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if bytes.Equal(result, p.last) {
		return // no change
	}
	p.last = result
	for id, ch := range p.subs {
		select {
		case ch <- result:
		default:
			p.log.Debug("Poll subscriber too slow, dropping update", "method", p.method, "sub", id)
		}
	}
}
