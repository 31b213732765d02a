package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/alloy-rs/alloy-sub000/client"
	"github.com/alloy-rs/alloy-sub000/eth"
	"github.com/alloy-rs/alloy-sub000/pubsub"
)

// HeadSignal is one new-heads event, or the subscription's terminal error.
type HeadSignal struct {
	Ref eth.BlockRef
	Err error
}

// SubscribeNewHeads delivers the chain head as it changes. On a pubsub
// transport this uses eth_subscribe("newHeads"); otherwise the head is
// polled at the configured block time and deduplicated.
// The returned stop function ends the subscription and closes the channel.
func (p *Provider) SubscribeNewHeads(ctx context.Context) (<-chan HeadSignal, func(), error) {
	if p.pubsubT != nil {
		return p.subscribeHeadsPush(ctx)
	}
	return p.subscribeHeadsPoll()
}

func (p *Provider) subscribeHeadsPush(ctx context.Context) (<-chan HeadSignal, func(), error) {
	mgr := p.pubsubManager()
	sub, err := mgr.Subscribe(ctx, "eth", "newHeads")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe to new heads: %w", err)
	}
	out := make(chan HeadSignal, 8)
	go func() {
		defer close(out)
		for payload := range sub.Data() {
			ref, err := p.decodeHead(payload)
			if err != nil {
				p.log.Warn("Dropping malformed new-heads notification", "err", err)
				continue
			}
			p.recordBlockRef(ref)
			out <- HeadSignal{Ref: ref}
		}
		select {
		case err := <-sub.Err():
			if err != pubsub.ErrUnsubscribed {
				out <- HeadSignal{Err: err}
			}
		default:
		}
	}()
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.BlockTime)
		defer cancel()
		if err := mgr.Unsubscribe(ctx, sub); err != nil {
			p.log.Warn("Failed to unsubscribe from new heads", "err", err)
		}
	}
	return out, stop, nil
}

func (p *Provider) subscribeHeadsPoll() (<-chan HeadSignal, func(), error) {
	poller := client.NewPoller(p.cl, p.log, "eth_getBlockByNumber", []any{eth.Unsafe.Arg(), false}, p.cfg.BlockTime)
	raw, unsubscribe := poller.Subscribe()
	poller.Start()

	out := make(chan HeadSignal, 8)
	go func() {
		defer close(out)
		for payload := range raw {
			ref, err := p.decodeHead(payload)
			if err != nil {
				p.log.Warn("Dropping malformed head poll result", "err", err)
				continue
			}
			p.recordBlockRef(ref)
			out <- HeadSignal{Ref: ref}
		}
	}()
	var once sync.Once
	stop := func() {
		once.Do(func() {
			poller.Stop()
			unsubscribe()
		})
	}
	return out, stop, nil
}

func (p *Provider) decodeHead(payload json.RawMessage) (eth.BlockRef, error) {
	var header eth.RPCHeader
	if err := json.Unmarshal(payload, &header); err != nil {
		return eth.BlockRef{}, fmt.Errorf("failed to decode header: %w", err)
	}
	info, err := header.Info(p.trustRPC, p.mustBePostMerge)
	if err != nil {
		return eth.BlockRef{}, err
	}
	p.headersCache.Add(info.Hash(), info)
	return eth.InfoToBlockRef(info), nil
}

func (p *Provider) pubsubManager() *pubsub.Manager {
	p.pubsubMu.Lock()
	defer p.pubsubMu.Unlock()
	if p.pubsubMgr == nil {
		p.pubsubMgr = pubsub.NewManager(p.cl, p.pubsubT, p.log)
	}
	return p.pubsubMgr
}
