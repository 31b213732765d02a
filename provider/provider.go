package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alloy-rs/alloy-sub000/client"
	"github.com/alloy-rs/alloy-sub000/eth"
	"github.com/alloy-rs/alloy-sub000/metrics"
	"github.com/alloy-rs/alloy-sub000/pubsub"
	"github.com/alloy-rs/alloy-sub000/transport"
)

// Metricer is the metrics sink of a Provider.
type Metricer interface {
	metrics.RPCMetricer
	metrics.CacheMetrics
}

// Provider retrieves ethereum data with batched requests, cached results,
// and a flag to not trust the RPC.
type Provider struct {
	cl *client.Client

	// non-nil when the underlying transport supports server push
	pubsubT transport.PubSubTransport

	pubsubMu  sync.Mutex
	pubsubMgr *pubsub.Manager

	trustRPC bool

	mustBePostMerge bool

	log log.Logger

	cfg *Config

	// cache transactions in bundles per block hash
	// common.Hash -> types.Transactions
	transactionsCache *LRUCache[common.Hash, types.Transactions]

	// cache block headers of blocks by hash
	// common.Hash -> eth.BlockInfo
	headersCache *LRUCache[common.Hash, eth.BlockInfo]

	// cache receipts in bundles per block hash
	// common.Hash -> types.Receipts
	receiptsCache *LRUCache[common.Hash, types.Receipts]

	// canonical block refs by number, pruned on reorg signals
	blockRefsCache *OrderCache[eth.BlockRef]
}

// New returns a [Provider], wrapping a transport with bindings to fetch
// ethereum data with added error logging, metric tracking, and caching.
// The transport is wrapped with a concurrency limit.
func New(t transport.Transport, logger log.Logger, m Metricer, cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig(100)
	}
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("bad config, cannot create provider: %w", err)
	}
	if m == nil {
		m = metrics.NoopMetrics{}
	}
	pubsubT, _ := t.(transport.PubSubTransport)
	t = transport.NewLimitTransport(t, cfg.MaxConcurrentRequests)
	cl := client.New(t, logger, &client.Config{Metrics: m})
	return &Provider{
		cl:                cl,
		pubsubT:           pubsubT,
		trustRPC:          cfg.TrustRPC,
		mustBePostMerge:   cfg.MustBePostMerge,
		log:               logger,
		cfg:               cfg,
		transactionsCache: NewLRUCache[common.Hash, types.Transactions](m, "txs", cfg.TransactionsCacheSize),
		headersCache:      NewLRUCache[common.Hash, eth.BlockInfo](m, "headers", cfg.HeadersCacheSize),
		receiptsCache:     NewLRUCache[common.Hash, types.Receipts](m, "receipts", cfg.ReceiptsCacheSize),
		blockRefsCache:    NewOrderCache[eth.BlockRef](m, "blockrefs", cfg.BlockRefsCacheSize),
	}, nil
}

// Client exposes the underlying RPC client, e.g. for batch calls.
func (p *Provider) Client() *client.Client {
	return p.cl
}

// call is CallContext with null results normalized to ethereum.NotFound.
func (p *Provider) call(ctx context.Context, result any, method string, args ...any) error {
	err := p.cl.CallContext(ctx, result, method, args...)
	if errors.Is(err, client.ErrNullResult) {
		return ethereum.NotFound
	}
	return err
}

// rpcBlockID is an internal type to enforce header and block call results match the requested identifier
type rpcBlockID interface {
	// Arg translates the object into an RPC argument
	Arg() any
	// CheckID verifies a block/header result matches the requested block identifier
	CheckID(id eth.BlockID) error
}

// hashID implements rpcBlockID for safe block-by-hash fetching
type hashID common.Hash

func (h hashID) Arg() any { return common.Hash(h) }
func (h hashID) CheckID(id eth.BlockID) error {
	if common.Hash(h) != id.Hash {
		return fmt.Errorf("expected block hash %s but got block %s", common.Hash(h), id)
	}
	return nil
}

// numberID implements rpcBlockID for safe block-by-number fetching
type numberID uint64

func (n numberID) Arg() any { return hexutil.EncodeUint64(uint64(n)) }
func (n numberID) CheckID(id eth.BlockID) error {
	if uint64(n) != id.Number {
		return fmt.Errorf("expected block number %d but got block %s", uint64(n), id)
	}
	return nil
}

func (p *Provider) headerCall(ctx context.Context, method string, id rpcBlockID) (eth.BlockInfo, error) {
	var header eth.RPCHeader
	err := p.call(ctx, &header, method, id.Arg(), false) // headers are just blocks without txs
	if err != nil {
		return nil, eth.MaybeAsNotFoundErr(err)
	}
	info, err := header.Info(p.trustRPC, p.mustBePostMerge)
	if err != nil {
		return nil, err
	}
	if err := id.CheckID(eth.ToBlockID(info)); err != nil {
		return nil, fmt.Errorf("fetched block header does not match requested ID: %w", err)
	}
	p.headersCache.Add(info.Hash(), info)
	return info, nil
}

func (p *Provider) blockCall(ctx context.Context, method string, id rpcBlockID) (eth.BlockInfo, types.Transactions, error) {
	var block eth.RPCBlock
	err := p.call(ctx, &block, method, id.Arg(), true)
	if err != nil {
		return nil, nil, eth.MaybeAsNotFoundErr(err)
	}
	info, txs, err := block.Info(p.trustRPC, p.mustBePostMerge)
	if err != nil {
		return nil, nil, err
	}
	if err := id.CheckID(eth.ToBlockID(info)); err != nil {
		return nil, nil, fmt.Errorf("fetched block data does not match requested ID: %w", err)
	}
	p.headersCache.Add(info.Hash(), info)
	p.transactionsCache.Add(info.Hash(), txs)
	return info, txs, nil
}

// ChainID fetches the chain id of the internal RPC.
func (p *Provider) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	err := p.call(ctx, &id, "eth_chainId")
	if err != nil {
		return nil, err
	}
	return (*big.Int)(&id), nil
}

func (p *Provider) HeaderByHash(ctx context.Context, hash common.Hash) (eth.BlockInfo, error) {
	if header, ok := p.headersCache.Get(hash); ok {
		return header, nil
	}
	return p.headerCall(ctx, "eth_getBlockByHash", hashID(hash))
}

func (p *Provider) HeaderByNumber(ctx context.Context, number uint64) (eth.BlockInfo, error) {
	// can't hit the cache when querying by number due to reorgs.
	return p.headerCall(ctx, "eth_getBlockByNumber", numberID(number))
}

func (p *Provider) HeaderByLabel(ctx context.Context, label eth.BlockLabel) (eth.BlockInfo, error) {
	// can't hit the cache when querying the head due to reorgs / changes.
	return p.headerCall(ctx, "eth_getBlockByNumber", label)
}

func (p *Provider) BlockByHash(ctx context.Context, hash common.Hash) (eth.BlockInfo, types.Transactions, error) {
	if header, ok := p.headersCache.Get(hash); ok {
		if txs, ok := p.transactionsCache.Get(hash); ok {
			return header, txs, nil
		}
	}
	return p.blockCall(ctx, "eth_getBlockByHash", hashID(hash))
}

func (p *Provider) BlockByNumber(ctx context.Context, number uint64) (eth.BlockInfo, types.Transactions, error) {
	// can't hit the cache when querying by number due to reorgs.
	return p.blockCall(ctx, "eth_getBlockByNumber", numberID(number))
}

func (p *Provider) BlockByLabel(ctx context.Context, label eth.BlockLabel) (eth.BlockInfo, types.Transactions, error) {
	// can't hit the cache when querying the head due to reorgs / changes.
	return p.blockCall(ctx, "eth_getBlockByNumber", label)
}

// BlockRefByLabel returns the [eth.BlockRef] for the given block label.
// Notice, we cannot cache a block reference by label because labels are not guaranteed to be unique.
func (p *Provider) BlockRefByLabel(ctx context.Context, label eth.BlockLabel) (eth.BlockRef, error) {
	info, err := p.HeaderByLabel(ctx, label)
	if err != nil {
		// Both geth and erigon like to serve non-standard errors for the safe and finalized heads, correct that.
		// This happens when the chain just started and nothing is marked as safe/finalized yet.
		return eth.BlockRef{}, fmt.Errorf("failed to fetch head header: %w", eth.MaybeAsNotFoundErr(err))
	}
	ref := eth.InfoToBlockRef(info)
	p.recordBlockRef(ref)
	return ref, nil
}

// BlockRefByNumber returns an [eth.BlockRef] for the given block number.
func (p *Provider) BlockRefByNumber(ctx context.Context, num uint64) (eth.BlockRef, error) {
	if ref, ok := p.blockRefsCache.Get(num); ok {
		return ref, nil
	}
	info, err := p.HeaderByNumber(ctx, num)
	if err != nil {
		return eth.BlockRef{}, fmt.Errorf("failed to fetch header by num %d: %w", num, err)
	}
	ref := eth.InfoToBlockRef(info)
	p.recordBlockRef(ref)
	return ref, nil
}

// recordBlockRef caches the ref by number. When the ref contradicts an
// already-cached ref at the same height the chain reorged: everything at or
// above that height is dropped before the new ref is recorded.
func (p *Provider) recordBlockRef(ref eth.BlockRef) {
	if prev, ok := p.blockRefsCache.Get(ref.Number); ok && prev.Hash != ref.Hash {
		p.log.Warn("Reorg detected, pruning block refs", "number", ref.Number, "old", prev.Hash, "new", ref.Hash)
		p.blockRefsCache.RemoveGreaterOrEqual(ref.Number)
	}
	p.blockRefsCache.Add(ref.Number, ref)
}

// PruneFinalized drops cached block refs below the finalized height,
// they can no longer reorg and take space in the reorg-tracking cache.
func (p *Provider) PruneFinalized(finalized uint64) {
	p.blockRefsCache.RemoveLessThan(finalized)
}

// TransactionReceipt returns the receipt associated with the transaction.
func (p *Provider) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var r *types.Receipt
	err := p.call(ctx, &r, "eth_getTransactionReceipt", txHash)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// TransactionByHash returns the transaction with the given hash.
func (p *Provider) TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, error) {
	var tx *types.Transaction
	err := p.call(ctx, &tx, "eth_getTransactionByHash", txHash)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// GetProof returns an account proof result, with any optional requested storage proofs.
// The retrieval does sanity-check that storage proofs for the expected keys are present in the response.
func (p *Provider) GetProof(ctx context.Context, address common.Address, storage []common.Hash, blockTag string) (*eth.AccountResult, error) {
	var result *eth.AccountResult
	err := p.call(ctx, &result, "eth_getProof", address, storage, blockTag)
	if err != nil {
		return nil, err
	}
	if len(result.StorageProof) != len(storage) {
		return nil, fmt.Errorf("missing storage proof data, got %d proof entries but requested %d storage keys", len(result.StorageProof), len(storage))
	}
	for i, key := range storage {
		if !bytes.Equal(key[:], result.StorageProof[i].Key) {
			return nil, fmt.Errorf("unexpected storage proof key difference for entry %d: got %s but requested %s", i, result.StorageProof[i].Key.String(), key)
		}
	}
	return result, nil
}

// StorageAt returns the storage value at the given address and storage slot,
// without verifying the correctness of the result.
func (p *Provider) StorageAt(ctx context.Context, address common.Address, storageSlot common.Hash, blockTag string) (common.Hash, error) {
	var out common.Hash
	err := p.call(ctx, &out, "eth_getStorageAt", address, storageSlot, blockTag)
	return out, err
}

func ToCallArg(msg ethereum.CallMsg) interface{} {
	arg := map[string]interface{}{
		"from": msg.From,
		"to":   msg.To,
	}
	if len(msg.Data) > 0 {
		arg["data"] = hexutil.Bytes(msg.Data)
	}
	if msg.Value != nil {
		arg["value"] = (*hexutil.Big)(msg.Value)
	}
	if msg.Gas != 0 {
		arg["gas"] = hexutil.Uint64(msg.Gas)
	}
	if msg.GasPrice != nil {
		arg["gasPrice"] = (*hexutil.Big)(msg.GasPrice)
	}
	if msg.GasFeeCap != nil {
		arg["maxFeePerGas"] = (*hexutil.Big)(msg.GasFeeCap)
	}
	if msg.GasTipCap != nil {
		arg["maxPriorityFeePerGas"] = (*hexutil.Big)(msg.GasTipCap)
	}
	if msg.AccessList != nil {
		arg["accessList"] = msg.AccessList
	}
	return arg
}

// CallContract executes a message call transaction but never mined into the blockchain.
func (p *Provider) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber rpc.BlockNumber) ([]byte, error) {
	var hex hexutil.Bytes
	err := p.call(ctx, &hex, "eth_call", ToCallArg(msg), blockNumber)
	if err != nil {
		return nil, err
	}
	return hex, nil
}

// EstimateGas tries to estimate the gas needed to execute a specific transaction.
func (p *Provider) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var hex hexutil.Uint64
	err := p.call(ctx, &hex, "eth_estimateGas", ToCallArg(msg))
	if err != nil {
		return 0, err
	}
	return uint64(hex), nil
}

// SuggestGasPrice retrieves the currently suggested gas price to allow a timely
// execution of a transaction.
func (p *Provider) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var hex hexutil.Big
	if err := p.call(ctx, &hex, "eth_gasPrice"); err != nil {
		return nil, err
	}
	return (*big.Int)(&hex), nil
}

// SuggestGasTipCap retrieves the currently suggested priority fee.
func (p *Provider) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	var hex hexutil.Big
	if err := p.call(ctx, &hex, "eth_maxPriorityFeePerGas"); err != nil {
		return nil, err
	}
	return (*big.Int)(&hex), nil
}

// feeHistoryResult decodes the hexutil-encoded eth_feeHistory response.
type feeHistoryResult struct {
	OldestBlock  *hexutil.Big     `json:"oldestBlock"`
	Reward       [][]*hexutil.Big `json:"reward,omitempty"`
	BaseFee      []*hexutil.Big   `json:"baseFeePerGas,omitempty"`
	GasUsedRatio []float64        `json:"gasUsedRatio"`
}

// FeeHistory retrieves the fee market history over the given block count
// ending at the given block, with rewards at the given percentiles.
func (p *Provider) FeeHistory(ctx context.Context, blockCount uint64, lastBlock rpc.BlockNumber, rewardPercentiles []float64) (*ethereum.FeeHistory, error) {
	var res feeHistoryResult
	if err := p.call(ctx, &res, "eth_feeHistory", hexutil.Uint(blockCount), lastBlock, rewardPercentiles); err != nil {
		return nil, err
	}
	history := &ethereum.FeeHistory{
		OldestBlock:  (*big.Int)(res.OldestBlock),
		GasUsedRatio: res.GasUsedRatio,
		Reward:       make([][]*big.Int, len(res.Reward)),
		BaseFee:      make([]*big.Int, len(res.BaseFee)),
	}
	for i, row := range res.Reward {
		history.Reward[i] = make([]*big.Int, len(row))
		for j, v := range row {
			history.Reward[i][j] = (*big.Int)(v)
		}
	}
	for i, v := range res.BaseFee {
		history.BaseFee[i] = (*big.Int)(v)
	}
	return history, nil
}

// SendTransaction submits a signed transaction.
func (p *Provider) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	data, err := tx.MarshalBinary()
	if err != nil {
		return err
	}
	return p.call(ctx, nil, "eth_sendRawTransaction", hexutil.Encode(data))
}

// PendingNonceAt returns the account nonce of the given account in the pending state.
func (p *Provider) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var result hexutil.Uint64
	err := p.call(ctx, &result, "eth_getTransactionCount", account, "pending")
	return uint64(result), err
}

// NonceAt returns the account nonce of the given account in the state at the given block number.
// A nil block number may be used to get the latest state.
func (p *Provider) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	var result hexutil.Uint64
	err := p.call(ctx, &result, "eth_getTransactionCount", account, toBlockNumArg(blockNumber))
	return uint64(result), err
}

func toBlockNumArg(number *big.Int) string {
	if number == nil {
		return "latest"
	}
	if number.Sign() >= 0 {
		return hexutil.EncodeBig(number)
	}
	// It's negative.
	if number.IsInt64() {
		return rpc.BlockNumber(number.Int64()).String()
	}
	// It's negative and large, which is invalid.
	return fmt.Sprintf("<invalid %d>", number)
}

// BalanceAt returns the wei balance of the given account.
func (p *Provider) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	var result hexutil.Big
	err := p.call(ctx, &result, "eth_getBalance", account, toBlockNumArg(blockNumber))
	return (*big.Int)(&result), err
}

// CodeAt returns the contract code of the given account at the given block number.
func (p *Provider) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	var result hexutil.Bytes
	err := p.call(ctx, &result, "eth_getCode", account, toBlockNumArg(blockNumber))
	return result, err
}

func (p *Provider) Close() {
	p.cl.Close()
}
