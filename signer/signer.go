// Package signer provides transaction signing backends.
package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TxSigner signs transactions for a single account.
type TxSigner interface {
	// Sign returns the signed transaction. The input is not modified.
	Sign(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)
	// Address is the account the signatures recover to.
	Address() common.Address
}

// LocalSigner signs with an in-memory private key. Suitable for testing and
// local development; production setups should use a remote or HSM backend.
type LocalSigner struct {
	priv    *ecdsa.PrivateKey
	addr    common.Address
	chainID *big.Int
}

var _ TxSigner = (*LocalSigner)(nil)

func NewLocalSigner(priv *ecdsa.PrivateKey, chainID *big.Int) (*LocalSigner, error) {
	if priv == nil {
		return nil, errors.New("nil private key")
	}
	if chainID == nil {
		return nil, errors.New("nil chain ID")
	}
	return &LocalSigner{
		priv:    priv,
		addr:    crypto.PubkeyToAddress(priv.PublicKey),
		chainID: chainID,
	}, nil
}

func (s *LocalSigner) Sign(_ context.Context, tx *types.Transaction) (*types.Transaction, error) {
	if s.priv == nil {
		return nil, errors.New("signer is closed")
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.priv)
	if err != nil {
		return nil, fmt.Errorf("failed to sign tx: %w", err)
	}
	return signed, nil
}

func (s *LocalSigner) Address() common.Address {
	return s.addr
}

// Close drops the private key. Subsequent Sign calls fail.
func (s *LocalSigner) Close() error {
	s.priv = nil
	return nil
}
