package provider

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alloy-rs/alloy-sub000/client"
	"github.com/alloy-rs/alloy-sub000/eth"
)

// FetchReceipts returns the block info and all of the receipts associated
// with transactions in the block. It verifies the receipt hash in the block
// header against the receipt hash of the fetched receipts to ensure that the
// execution engine did not fail to return any receipts.
func (p *Provider) FetchReceipts(ctx context.Context, blockHash common.Hash) (eth.BlockInfo, types.Receipts, error) {
	info, txs, err := p.BlockByHash(ctx, blockHash)
	if err != nil {
		return nil, nil, fmt.Errorf("querying block: %w", err)
	}
	if receipts, ok := p.receiptsCache.Get(blockHash); ok {
		return info, receipts, nil
	}

	txHashes := eth.TransactionsToHashes(txs)
	receipts, err := p.fetchReceiptsInBatches(ctx, txHashes)
	if err != nil {
		return nil, nil, err
	}
	if !p.trustRPC {
		if err := eth.CheckReceipts(info, receipts); err != nil {
			return nil, nil, fmt.Errorf("receipts of block %s do not match the block: %w", info.Hash(), err)
		}
	}
	p.receiptsCache.Add(blockHash, receipts)
	return info, receipts, nil
}

// FetchReceiptsByNumber resolves the block hash for the number and calls FetchReceipts.
func (p *Provider) FetchReceiptsByNumber(ctx context.Context, number uint64) (eth.BlockInfo, types.Receipts, error) {
	info, err := p.HeaderByNumber(ctx, number)
	if err != nil {
		return nil, nil, fmt.Errorf("querying block: %w", err)
	}
	return p.FetchReceipts(ctx, info.Hash())
}

// fetchReceiptsInBatches retrieves one receipt per tx hash, chunked into
// batches of at most MaxRequestsPerBatch calls.
func (p *Provider) fetchReceiptsInBatches(ctx context.Context, txHashes []common.Hash) (types.Receipts, error) {
	receipts := make(types.Receipts, len(txHashes))
	for start := 0; start < len(txHashes); start += p.cfg.MaxRequestsPerBatch {
		end := min(start+p.cfg.MaxRequestsPerBatch, len(txHashes))
		batch := make([]client.BatchElem, end-start)
		for i := range batch {
			batch[i] = client.BatchElem{
				Method: "eth_getTransactionReceipt",
				Args:   []any{txHashes[start+i]},
				Result: &receipts[start+i],
			}
		}
		if err := p.cl.BatchCallContext(ctx, batch); err != nil {
			return nil, fmt.Errorf("failed to fetch receipts batch: %w", err)
		}
		for i, elem := range batch {
			if elem.Error != nil {
				return nil, fmt.Errorf("failed to fetch receipt of tx %s: %w", txHashes[start+i], elem.Error)
			}
			if receipts[start+i] == nil {
				return nil, fmt.Errorf("receipt of tx %s is missing", txHashes[start+i])
			}
		}
	}
	return receipts, nil
}
