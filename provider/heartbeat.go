package provider

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/alloy-rs/alloy-sub000/eth"
	"github.com/alloy-rs/alloy-sub000/locks"
	"github.com/alloy-rs/alloy-sub000/tasks"
)

// transientReceiptErrs do not fail a watched transaction, the receipt may
// still appear on a later heartbeat.
var transientReceiptErrs = []error{
	ethereum.NotFound,
	errors.New("transaction indexing in progress"), // Not exported from geth.
}

func isTransientReceiptErr(err error) bool {
	return slices.ContainsFunc(transientReceiptErrs, func(transientErr error) bool {
		return strings.Contains(err.Error(), transientErr.Error())
	})
}

// TxConfirmation is the terminal result of a watched transaction.
type TxConfirmation struct {
	Receipt *types.Receipt
	// Err is set when the receipt lookup failed fatally.
	Err error
}

type watchedTx struct {
	ch chan TxConfirmation
	// set once the receipt was seen, confirmation still pending depth
	receipt *types.Receipt
}

// Heartbeat watches pending transactions. Registered tx hashes are polled for
// receipts once per block time; a confirmation is delivered once the receipt
// is at least ConfirmationDepth blocks below the chain head.
type Heartbeat struct {
	p    *Provider
	log  log.Logger
	poll *tasks.Poller

	depth   uint64
	watched locks.RWMap[common.Hash, *watchedTx]
}

// NewHeartbeat creates a stopped heartbeat; call Start to begin polling.
func NewHeartbeat(p *Provider, logger log.Logger) *Heartbeat {
	hb := &Heartbeat{
		p:     p,
		log:   logger,
		depth: p.cfg.ConfirmationDepth,
	}
	hb.poll = tasks.NewPoller(hb.tick, p.cfg.BlockTime)
	return hb
}

func (hb *Heartbeat) Start() { hb.poll.Start() }
func (hb *Heartbeat) Stop()  { hb.poll.Stop() }

// Watch registers a tx hash. The returned channel delivers exactly one
// TxConfirmation; cancel unregisters without delivering.
func (hb *Heartbeat) Watch(hash common.Hash) (<-chan TxConfirmation, func()) {
	w := &watchedTx{ch: make(chan TxConfirmation, 1)}
	hb.watched.Set(hash, w)
	cancel := func() {
		hb.watched.Delete(hash)
	}
	return w.ch, cancel
}

// WaitMined is a blocking convenience over Watch.
func (hb *Heartbeat) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ch, cancel := hb.Watch(hash)
	defer cancel()
	select {
	case conf := <-ch:
		return conf.Receipt, conf.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (hb *Heartbeat) tick() {
	if hb.watched.Len() == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), hb.p.cfg.BlockTime)
	defer cancel()

	head, err := hb.p.BlockRefByLabel(ctx, eth.Unsafe)
	if err != nil {
		hb.log.Warn("Heartbeat failed to fetch chain head", "err", err)
		return
	}

	hb.watched.Range(func(hash common.Hash, w *watchedTx) bool {
		hb.checkTx(ctx, head.Number, hash, w)
		return true
	})
}

func (hb *Heartbeat) checkTx(ctx context.Context, head uint64, hash common.Hash, w *watchedTx) {
	if w.receipt == nil {
		receipt, err := hb.p.TransactionReceipt(ctx, hash)
		if err != nil {
			if isTransientReceiptErr(err) {
				hb.log.Trace("Transaction not included yet", "tx", hash)
				return
			}
			hb.resolve(hash, w, TxConfirmation{Err: err})
			return
		}
		w.receipt = receipt
	}
	included := w.receipt.BlockNumber.Uint64()
	if head < included+hb.depth {
		hb.log.Trace("Transaction included, waiting for confirmation depth",
			"tx", hash, "included", included, "head", head, "depth", hb.depth)
		return
	}
	// Re-check inclusion at depth: the receipt could be from a reorged block.
	receipt, err := hb.p.TransactionReceipt(ctx, hash)
	if err != nil {
		if isTransientReceiptErr(err) {
			hb.log.Warn("Transaction receipt disappeared, likely reorged out", "tx", hash)
			w.receipt = nil
			return
		}
		hb.resolve(hash, w, TxConfirmation{Err: err})
		return
	}
	hb.resolve(hash, w, TxConfirmation{Receipt: receipt})
}

func (hb *Heartbeat) resolve(hash common.Hash, w *watchedTx, conf TxConfirmation) {
	hb.watched.Delete(hash)
	w.ch <- conf
}

// SetInterval adjusts the heartbeat interval, e.g. when the chain's block
// time differs from the configured default.
func (hb *Heartbeat) SetInterval(interval time.Duration) {
	hb.poll.SetInterval(interval)
}
