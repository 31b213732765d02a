package provider

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/stretchr/testify/require"
)

// sealedBlock builds a block of n transactions with matching receipts, both
// committed to by the header.
func sealedBlock(n int) (*types.Header, types.Transactions, types.Receipts) {
	txs := make(types.Transactions, n)
	receipts := make(types.Receipts, n)
	cumulative := uint64(0)
	for i := range txs {
		txs[i] = types.NewTx(&types.DynamicFeeTx{
			ChainID:   big.NewInt(1),
			Nonce:     uint64(i),
			Gas:       21000,
			GasTipCap: big.NewInt(1),
			GasFeeCap: big.NewInt(2),
		})
		cumulative += 21000
		receipts[i] = &types.Receipt{
			Type:              types.DynamicFeeTxType,
			Status:            types.ReceiptStatusSuccessful,
			CumulativeGasUsed: cumulative,
			GasUsed:           21000,
			TxHash:            txs[i].Hash(),
			BlockNumber:       big.NewInt(64),
			Logs:              []*types.Log{},
		}
	}
	header := sealedHeader(64, common.HexToHash("0x11"))
	header.TxHash = types.DeriveSha(txs, trie.NewStackTrie(nil))
	header.ReceiptHash = types.DeriveSha(receipts, trie.NewStackTrie(nil))
	return header, txs, receipts
}

func serveReceipts(t *testing.T, node *fakeNode, receipts types.Receipts) {
	t.Helper()
	byHash := make(map[common.Hash]*types.Receipt, len(receipts))
	for _, r := range receipts {
		byHash[r.TxHash] = r
	}
	node.handle("eth_getTransactionReceipt", func(args []json.RawMessage) (any, error) {
		var hash common.Hash
		require.NoError(t, json.Unmarshal(args[0], &hash))
		r, ok := byHash[hash]
		if !ok {
			return nil, nil
		}
		return r, nil
	})
}

func TestFetchReceipts(t *testing.T) {
	header, txs, receipts := sealedBlock(5)
	hash := header.Hash()
	node := newFakeNode()
	node.result("eth_getBlockByHash", rpcBlockJSON(t, header, hash, txs))
	serveReceipts(t, node, receipts)
	// a small batch limit forces chunked retrieval
	p := newTestProvider(t, node, func(cfg *Config) { cfg.MaxRequestsPerBatch = 2 })

	info, got, err := p.FetchReceipts(context.Background(), hash)
	require.NoError(t, err)
	require.Equal(t, hash, info.Hash())
	require.Len(t, got, 5)
	for i, r := range got {
		require.Equal(t, txs[i].Hash(), r.TxHash)
	}

	// receipts are cached by block hash now
	before := node.callCount("eth_getTransactionReceipt")
	_, _, err = p.FetchReceipts(context.Background(), hash)
	require.NoError(t, err)
	require.Equal(t, before, node.callCount("eth_getTransactionReceipt"))
}

func TestFetchReceiptsBadRoot(t *testing.T) {
	header, txs, receipts := sealedBlock(2)
	// serve a receipt with a flipped status, breaking the receipts root
	receipts[1] = &types.Receipt{
		Type:              types.DynamicFeeTxType,
		Status:            types.ReceiptStatusFailed,
		CumulativeGasUsed: receipts[1].CumulativeGasUsed,
		GasUsed:           receipts[1].GasUsed,
		TxHash:            receipts[1].TxHash,
		BlockNumber:       receipts[1].BlockNumber,
		Logs:              []*types.Log{},
	}
	hash := header.Hash()
	node := newFakeNode()
	node.result("eth_getBlockByHash", rpcBlockJSON(t, header, hash, txs))
	serveReceipts(t, node, receipts)
	p := newTestProvider(t, node, nil)

	_, _, err := p.FetchReceipts(context.Background(), hash)
	require.ErrorContains(t, err, "do not match the block")
}

func TestFetchReceiptsMissingReceipt(t *testing.T) {
	header, txs, receipts := sealedBlock(2)
	hash := header.Hash()
	node := newFakeNode()
	node.result("eth_getBlockByHash", rpcBlockJSON(t, header, hash, txs))
	serveReceipts(t, node, receipts[:1])
	p := newTestProvider(t, node, nil)

	_, _, err := p.FetchReceipts(context.Background(), hash)
	require.ErrorContains(t, err, "is missing")
}

func TestFetchReceiptsByNumber(t *testing.T) {
	header, txs, receipts := sealedBlock(1)
	hash := header.Hash()
	node := newFakeNode()
	node.result("eth_getBlockByNumber", rpcHeader(header, hash))
	node.result("eth_getBlockByHash", rpcBlockJSON(t, header, hash, txs))
	serveReceipts(t, node, receipts)
	p := newTestProvider(t, node, nil)

	info, got, err := p.FetchReceiptsByNumber(context.Background(), 64)
	require.NoError(t, err)
	require.Equal(t, hash, info.Hash())
	require.Len(t, got, 1)
}
