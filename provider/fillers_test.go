package provider

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func TestNonceManager(t *testing.T) {
	nm := newNonceManager(5)
	require.EqualValues(t, 5, nm.Next())
	require.EqualValues(t, 6, nm.Next())
	require.EqualValues(t, 7, nm.Next())

	// released nonces are reused in order before fresh ones
	nm.InsertGap(6)
	nm.InsertGap(5)
	nm.InsertGap(6) // duplicate, ignored
	nm.InsertGap(9) // ahead of the sequence, ignored
	require.EqualValues(t, 5, nm.Next())
	require.EqualValues(t, 6, nm.Next())
	require.EqualValues(t, 8, nm.Next())
}

// fillerNode installs the handlers the fillers depend on.
func fillerNode(t *testing.T) *fakeNode {
	node := newFakeNode()
	node.result("eth_chainId", hexutil.Big(*big.NewInt(1337)))
	node.result("eth_maxPriorityFeePerGas", hexutil.Big(*big.NewInt(1e9)))
	node.result("eth_estimateGas", hexutil.Uint64(50_000))
	node.result("eth_getTransactionCount", hexutil.Uint64(7))
	head := sealedHeader(100, common.HexToHash("0x11")) // BaseFee 100
	node.result("eth_getBlockByNumber", rpcHeader(head, head.Hash()))
	return node
}

func TestFill(t *testing.T) {
	node := fillerNode(t)
	p := newTestProvider(t, node, nil)
	from := common.HexToAddress("0xf00d")
	to := common.HexToAddress("0xbeef")

	chainIDFiller := NewChainIDFiller(p)
	nonceFiller := NewNonceFiller(p)
	gasFiller := NewGasFiller(p)

	req := &TxRequest{From: from, To: &to, Value: big.NewInt(1)}
	require.NoError(t, Fill(context.Background(), req, chainIDFiller, gasFiller, nonceFiller))

	require.EqualValues(t, 1337, req.ChainID.Int64())
	require.EqualValues(t, 7, *req.Nonce)
	require.EqualValues(t, 1e9, req.GasTipCap.Int64())
	// 2*baseFee + tip
	require.EqualValues(t, 2*100+1e9, req.GasFeeCap.Int64())
	require.EqualValues(t, 50_000, req.GasLimit)

	// the chain ID is fetched once, nonces advance per fill
	req2 := &TxRequest{From: from, To: &to}
	require.NoError(t, Fill(context.Background(), req2, chainIDFiller, gasFiller, nonceFiller))
	require.EqualValues(t, 8, *req2.Nonce)
	require.Equal(t, 1, node.callCount("eth_chainId"))
	require.Equal(t, 1, node.callCount("eth_getTransactionCount"))

	// a released nonce is claimed before a fresh one
	nonceFiller.ReleaseNonce(from, 7)
	req3 := &TxRequest{From: from, To: &to}
	require.NoError(t, Fill(context.Background(), req3, chainIDFiller, gasFiller, nonceFiller))
	require.EqualValues(t, 7, *req3.Nonce)
}

func TestFillKeepsCallerValues(t *testing.T) {
	node := fillerNode(t)
	p := newTestProvider(t, node, nil)
	from := common.HexToAddress("0xf00d")
	to := common.HexToAddress("0xbeef")
	nonce := uint64(42)

	req := &TxRequest{
		From:      from,
		To:        &to,
		ChainID:   big.NewInt(5),
		Nonce:     &nonce,
		GasLimit:  21000,
		GasTipCap: big.NewInt(2),
		GasFeeCap: big.NewInt(3),
	}
	require.NoError(t, Fill(context.Background(), req, NewChainIDFiller(p), NewGasFiller(p), NewNonceFiller(p)))

	require.EqualValues(t, 5, req.ChainID.Int64())
	require.EqualValues(t, 42, *req.Nonce)
	require.EqualValues(t, 2, req.GasTipCap.Int64())
	require.EqualValues(t, 3, req.GasFeeCap.Int64())
	require.EqualValues(t, 21000, req.GasLimit)
	// nothing had to be fetched
	require.Equal(t, 0, node.callCount("eth_chainId"))
	require.Equal(t, 0, node.callCount("eth_getTransactionCount"))
	require.Equal(t, 0, node.callCount("eth_estimateGas"))
}

func TestBuildTx(t *testing.T) {
	to := common.HexToAddress("0xbeef")
	nonce := uint64(3)
	req := &TxRequest{
		To:        &to,
		Value:     big.NewInt(10),
		ChainID:   big.NewInt(1337),
		Nonce:     &nonce,
		GasLimit:  21000,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
	}
	tx, err := BuildTx(req)
	require.NoError(t, err)
	require.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	require.EqualValues(t, 3, tx.Nonce())
	require.EqualValues(t, 10, tx.Value().Int64())

	// blob fields switch the transaction type
	req.BlobHashes = []common.Hash{{1}}
	req.BlobFeeCap = big.NewInt(7)
	tx, err = BuildTx(req)
	require.NoError(t, err)
	require.Equal(t, uint8(types.BlobTxType), tx.Type())
	require.Equal(t, []common.Hash{{1}}, tx.BlobHashes())
	require.EqualValues(t, 7, tx.BlobGasFeeCap().Int64())
}

func TestBuildTxIncomplete(t *testing.T) {
	to := common.HexToAddress("0xbeef")
	nonce := uint64(3)
	complete := func() *TxRequest {
		return &TxRequest{
			To:        &to,
			ChainID:   big.NewInt(1337),
			Nonce:     &nonce,
			GasLimit:  21000,
			GasTipCap: big.NewInt(1),
			GasFeeCap: big.NewInt(2),
		}
	}

	req := complete()
	req.ChainID = nil
	_, err := BuildTx(req)
	require.ErrorContains(t, err, "no chain ID")

	req = complete()
	req.Nonce = nil
	_, err = BuildTx(req)
	require.ErrorContains(t, err, "no nonce")

	req = complete()
	req.GasLimit = 0
	_, err = BuildTx(req)
	require.ErrorContains(t, err, "no gas limit")

	req = complete()
	req.BlobHashes = []common.Hash{{1}}
	_, err = BuildTx(req)
	require.ErrorContains(t, err, "no blob fee cap")

	req = complete()
	req.BlobHashes = []common.Hash{{1}}
	req.BlobFeeCap = big.NewInt(1)
	req.To = nil
	_, err = BuildTx(req)
	require.ErrorContains(t, err, "cannot create contracts")
}

func TestGasFillerBlobFee(t *testing.T) {
	node := fillerNode(t)
	head := sealedHeader(100, common.HexToHash("0x11"))
	head.WithdrawalsHash = &types.EmptyWithdrawalsHash
	excess := uint64(0)
	head.ExcessBlobGas = &excess // blob base fee 1
	used := uint64(0)
	head.BlobGasUsed = &used
	node.result("eth_getBlockByNumber", rpcHeader(head, head.Hash()))
	p := newTestProvider(t, node, func(cfg *Config) { cfg.TrustRPC = true })

	to := common.HexToAddress("0xbeef")
	req := &TxRequest{To: &to, BlobHashes: []common.Hash{{1}}, GasLimit: 21000}
	require.NoError(t, NewGasFiller(p).Fill(context.Background(), req))
	// 2x the blob base fee
	require.EqualValues(t, 2, req.BlobFeeCap.Int64())
}

func TestFillerArgsEncoding(t *testing.T) {
	node := fillerNode(t)
	var estimateArg map[string]json.RawMessage
	node.handle("eth_estimateGas", func(args []json.RawMessage) (any, error) {
		require.Len(t, args, 1)
		require.NoError(t, json.Unmarshal(args[0], &estimateArg))
		return hexutil.Uint64(30_000), nil
	})
	p := newTestProvider(t, node, nil)

	from := common.HexToAddress("0xf00d")
	to := common.HexToAddress("0xbeef")
	req := &TxRequest{From: from, To: &to, Data: []byte{0xca, 0xfe}, Value: big.NewInt(5)}
	require.NoError(t, Fill(context.Background(), req, NewGasFiller(p)))

	require.JSONEq(t, `"0xcafe"`, string(estimateArg["data"]))
	require.JSONEq(t, `"0x5"`, string(estimateArg["value"]))
	require.Contains(t, estimateArg, "maxFeePerGas")
	require.Contains(t, estimateArg, "maxPriorityFeePerGas")
}
