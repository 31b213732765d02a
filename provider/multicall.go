package provider

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/sync/errgroup"

	"github.com/alloy-rs/alloy-sub000/client"
)

// Call is a single call in a multicall: a method with its decode target.
// After MultiCaller.Call returns, Err holds the per-call failure, if any.
type Call struct {
	Method string
	Args   []any
	Result any
	Err    error
}

// ContractCall builds an eth_call element against the given block.
func ContractCall(msg ethereum.CallMsg, block rpc.BlockNumber, result *hexutil.Bytes) *Call {
	return &Call{
		Method: "eth_call",
		Args:   []any{ToCallArg(msg), block},
		Result: result,
	}
}

// MultiCaller aggregates independent calls into JSON-RPC batches of bounded
// size, dispatching the batches concurrently.
type MultiCaller struct {
	cl        *client.Client
	batchSize int
}

func (p *Provider) NewMultiCaller(batchSize int) *MultiCaller {
	return &MultiCaller{
		cl:        p.cl,
		batchSize: batchSize,
	}
}

func (mc *MultiCaller) BatchSize() int {
	return mc.batchSize
}

// Call executes all calls. Wire-level failures are returned as one error;
// per-call failures are recorded on each element and also summarized in the
// returned error.
func (mc *MultiCaller) Call(ctx context.Context, calls ...*Call) error {
	g, gCtx := errgroup.WithContext(ctx)
	for start := 0; start < len(calls); start += mc.batchSize {
		chunk := calls[start:min(start+mc.batchSize, len(calls))]
		g.Go(func() error {
			batch := make([]client.BatchElem, len(chunk))
			for i, call := range chunk {
				batch[i] = client.BatchElem{
					Method: call.Method,
					Args:   call.Args,
					Result: call.Result,
				}
			}
			if err := mc.cl.BatchCallContext(gCtx, batch); err != nil {
				return err
			}
			for i, call := range chunk {
				call.Err = batch[i].Error
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("multicall dispatch failed: %w", err)
	}
	var failed int
	for _, call := range calls {
		if call.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d calls failed", failed, len(calls))
	}
	return nil
}
