package provider

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/alloy-rs/alloy-sub000/eth"
	"github.com/alloy-rs/alloy-sub000/locks"
)

// TxRequest is a partially specified transaction. Unset fields are populated
// by fillers before the request is turned into a signable transaction.
type TxRequest struct {
	From  common.Address
	To    *common.Address // nil for contract creation
	Data  []byte
	Value *big.Int

	// Populated by fillers when unset.
	ChainID    *big.Int
	Nonce      *uint64
	GasLimit   uint64
	GasTipCap  *big.Int
	GasFeeCap  *big.Int
	AccessList types.AccessList

	// Blob fields, only for blob transactions.
	BlobHashes []common.Hash
	BlobFeeCap *big.Int
	Sidecar    *types.BlobTxSidecar
}

func (r *TxRequest) isBlobTx() bool {
	return len(r.BlobHashes) > 0 || r.Sidecar != nil
}

// Filler populates missing fields of a transaction request.
// Fillers must leave fields the caller already set untouched.
type Filler interface {
	Fill(ctx context.Context, req *TxRequest) error
}

// ChainIDFiller fills the chain ID, fetched once and reused.
type ChainIDFiller struct {
	p *Provider

	mu      sync.Mutex
	chainID *big.Int
}

var _ Filler = (*ChainIDFiller)(nil)

func NewChainIDFiller(p *Provider) *ChainIDFiller {
	return &ChainIDFiller{p: p}
}

func (f *ChainIDFiller) Fill(ctx context.Context, req *TxRequest) error {
	if req.ChainID != nil {
		return nil
	}
	id, err := f.chainIDOnce(ctx)
	if err != nil {
		return fmt.Errorf("failed to fill chain ID: %w", err)
	}
	req.ChainID = id
	return nil
}

func (f *ChainIDFiller) chainIDOnce(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chainID != nil {
		return f.chainID, nil
	}
	id, err := f.p.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	f.chainID = id
	return id, nil
}

// NonceFiller assigns nonces from a per-account nonce manager, seeded from
// the pending state on first use. Failed nonces can be handed back with
// ReleaseNonce and are reused before fresh ones.
type NonceFiller struct {
	p *Provider

	managers locks.RWMap[common.Address, *nonceManager]
	seedMu   sync.Mutex
}

var _ Filler = (*NonceFiller)(nil)

func NewNonceFiller(p *Provider) *NonceFiller {
	return &NonceFiller{p: p}
}

func (f *NonceFiller) Fill(ctx context.Context, req *TxRequest) error {
	if req.Nonce != nil {
		return nil
	}
	nm, err := f.manager(ctx, req.From)
	if err != nil {
		return fmt.Errorf("failed to fill nonce: %w", err)
	}
	nonce := nm.Next()
	req.Nonce = &nonce
	return nil
}

// ReleaseNonce hands a nonce back for reuse, e.g. when the transaction that
// held it was never sent.
func (f *NonceFiller) ReleaseNonce(account common.Address, nonce uint64) {
	if nm, ok := f.managers.Get(account); ok {
		nm.InsertGap(nonce)
	}
}

func (f *NonceFiller) manager(ctx context.Context, account common.Address) (*nonceManager, error) {
	if nm, ok := f.managers.Get(account); ok {
		return nm, nil
	}
	f.seedMu.Lock()
	defer f.seedMu.Unlock()
	if nm, ok := f.managers.Get(account); ok {
		return nm, nil
	}
	start, err := f.p.PendingNonceAt(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending nonce of %s: %w", account, err)
	}
	nm := newNonceManager(start)
	f.managers.Set(account, nm)
	return nm, nil
}

// GasFiller estimates the fee caps and the gas limit.
// The fee cap is computed as 2*basefee + tip to stay valid across basefee swings.
type GasFiller struct {
	p *Provider
}

var _ Filler = (*GasFiller)(nil)

func NewGasFiller(p *Provider) *GasFiller {
	return &GasFiller{p: p}
}

func (f *GasFiller) Fill(ctx context.Context, req *TxRequest) error {
	if req.GasTipCap == nil || req.GasFeeCap == nil || (req.isBlobTx() && req.BlobFeeCap == nil) {
		if err := f.fillFees(ctx, req); err != nil {
			return err
		}
	}
	if req.GasLimit == 0 {
		gas, err := f.p.EstimateGas(ctx, ethereum.CallMsg{
			From:      req.From,
			To:        req.To,
			Data:      req.Data,
			Value:     req.Value,
			GasTipCap: req.GasTipCap,
			GasFeeCap: req.GasFeeCap,
		})
		if err != nil {
			return fmt.Errorf("failed to estimate gas: %w", err)
		}
		req.GasLimit = gas
	}
	return nil
}

func (f *GasFiller) fillFees(ctx context.Context, req *TxRequest) error {
	tip, baseFee, blobFee, err := f.estimateFees(ctx, req.isBlobTx())
	if err != nil {
		return err
	}
	if req.GasTipCap == nil {
		req.GasTipCap = tip
	}
	if req.GasFeeCap == nil {
		req.GasFeeCap = eth.CalcGasFeeCap(baseFee, req.GasTipCap)
	}
	if req.isBlobTx() && req.BlobFeeCap == nil {
		if blobFee == nil {
			return errors.New("chain head has no blob base fee, cannot price blob transaction")
		}
		// same 2x headroom as the regular fee cap
		req.BlobFeeCap = new(big.Int).Mul(blobFee, big.NewInt(2))
	}
	return nil
}

func (f *GasFiller) estimateFees(ctx context.Context, needBlobFee bool) (tip, baseFee, blobFee *big.Int, err error) {
	tip, err = f.p.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to fetch tip cap: %w", err)
	}
	head, err := f.p.HeaderByLabel(ctx, eth.Unsafe)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to fetch chain head: %w", err)
	}
	baseFee = head.BaseFee()
	if baseFee == nil {
		return nil, nil, nil, errors.New("pre-london chain head does not have a base fee")
	}
	if needBlobFee {
		blobFee = head.BlobBaseFee()
	}
	return tip, baseFee, blobFee, nil
}

// Fill runs the given fillers in order over the request.
func Fill(ctx context.Context, req *TxRequest, fillers ...Filler) error {
	for _, f := range fillers {
		if err := f.Fill(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// BuildTx turns a fully filled request into an unsigned transaction.
func BuildTx(req *TxRequest) (*types.Transaction, error) {
	switch {
	case req.ChainID == nil:
		return nil, errors.New("request has no chain ID")
	case req.Nonce == nil:
		return nil, errors.New("request has no nonce")
	case req.GasFeeCap == nil || req.GasTipCap == nil:
		return nil, errors.New("request has no fee caps")
	case req.GasLimit == 0:
		return nil, errors.New("request has no gas limit")
	}
	if req.isBlobTx() {
		if req.To == nil {
			return nil, errors.New("blob transactions cannot create contracts")
		}
		if req.BlobFeeCap == nil {
			return nil, errors.New("blob request has no blob fee cap")
		}
		blobHashes := req.BlobHashes
		if blobHashes == nil && req.Sidecar != nil {
			blobHashes = req.Sidecar.BlobHashes()
		}
		value := req.Value
		if value == nil {
			value = new(big.Int)
		}
		return types.NewTx(&types.BlobTx{
			ChainID:    uint256.MustFromBig(req.ChainID),
			Nonce:      *req.Nonce,
			GasTipCap:  uint256.MustFromBig(req.GasTipCap),
			GasFeeCap:  uint256.MustFromBig(req.GasFeeCap),
			Gas:        req.GasLimit,
			To:         *req.To,
			Value:      uint256.MustFromBig(value),
			Data:       req.Data,
			AccessList: req.AccessList,
			BlobFeeCap: uint256.MustFromBig(req.BlobFeeCap),
			BlobHashes: blobHashes,
			Sidecar:    req.Sidecar,
		}), nil
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:    req.ChainID,
		Nonce:      *req.Nonce,
		GasTipCap:  req.GasTipCap,
		GasFeeCap:  req.GasFeeCap,
		Gas:        req.GasLimit,
		To:         req.To,
		Value:      req.Value,
		Data:       req.Data,
		AccessList: req.AccessList,
	}), nil
}
