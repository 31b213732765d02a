package eth

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/stretchr/testify/require"
)

func postMergeHeader() *types.Header {
	return &types.Header{
		ParentHash:  common.HexToHash("0x1234"),
		UncleHash:   types.EmptyUncleHash,
		Root:        common.HexToHash("0x5678"),
		TxHash:      types.EmptyTxsHash,
		ReceiptHash: types.EmptyReceiptsHash,
		Difficulty:  common.Big0,
		Number:      big.NewInt(100),
		GasLimit:    30_000_000,
		GasUsed:     21_000,
		Time:        1700000000,
		BaseFee:     big.NewInt(7),
	}
}

func TestRPCHeaderInfo(t *testing.T) {
	header := postMergeHeader()
	h := &RPCHeader{Header: *header, BlockHash: header.Hash()}

	info, err := h.Info(false, true)
	require.NoError(t, err)
	require.Equal(t, header.Hash(), info.Hash())
	require.Equal(t, header.ParentHash, info.ParentHash())
	require.EqualValues(t, 100, info.NumberU64())
	require.EqualValues(t, 1700000000, info.Time())
	require.EqualValues(t, 7, info.BaseFee().Int64())
}

func TestRPCHeaderInfoBadHash(t *testing.T) {
	header := postMergeHeader()
	h := &RPCHeader{Header: *header, BlockHash: common.HexToHash("0xdead")}

	_, err := h.Info(false, true)
	require.ErrorContains(t, err, "blockhash does not match")

	// a trusted server is not double-checked
	info, err := h.Info(true, true)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0xdead"), info.Hash())
}

func TestRPCHeaderInfoPreMergeFields(t *testing.T) {
	header := postMergeHeader()
	header.Difficulty = big.NewInt(5)
	h := &RPCHeader{Header: *header, BlockHash: header.Hash()}

	_, err := h.Info(false, true)
	require.ErrorContains(t, err, "unexpected difficulty")

	// pre-merge chains skip the check
	_, err = h.Info(false, false)
	require.NoError(t, err)
}

func TestRPCBlockInfo(t *testing.T) {
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(1),
		Nonce:     1,
		Gas:       21000,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
	})
	txs := types.Transactions{tx}
	header := postMergeHeader()
	header.TxHash = types.DeriveSha(txs, trie.NewStackTrie(nil))
	b := &RPCBlock{
		RPCHeader:    RPCHeader{Header: *header, BlockHash: header.Hash()},
		Transactions: txs,
	}

	info, got, err := b.Info(false, true)
	require.NoError(t, err)
	require.Equal(t, header.Hash(), info.Hash())
	require.Len(t, got, 1)
	require.Equal(t, tx.Hash(), got[0].Hash())
}

func TestRPCBlockInfoBadTxs(t *testing.T) {
	header := postMergeHeader() // commits to no transactions
	tx := types.NewTx(&types.LegacyTx{Gas: 21000, GasPrice: big.NewInt(1)})
	b := &RPCBlock{
		RPCHeader:    RPCHeader{Header: *header, BlockHash: header.Hash()},
		Transactions: types.Transactions{tx},
	}

	_, _, err := b.Info(false, true)
	require.ErrorContains(t, err, "does not match transactions")

	// trusting the server skips the transactions-root check
	_, _, err = b.Info(true, true)
	require.NoError(t, err)
}

func TestBlockRefParentID(t *testing.T) {
	ref := BlockRef{
		Hash:       common.HexToHash("0x11"),
		Number:     5,
		ParentHash: common.HexToHash("0x22"),
	}
	require.Equal(t, BlockID{Hash: ref.Hash, Number: 5}, ref.ID())
	require.Equal(t, BlockID{Hash: ref.ParentHash, Number: 4}, ref.ParentID())

	genesis := BlockRef{Number: 0}
	require.EqualValues(t, 0, genesis.ParentID().Number)
}
