package signer

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestLocalSigner(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	chainID := big.NewInt(1337)

	s, err := NewLocalSigner(priv, chainID)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(priv.PublicKey), s.Address())

	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     3,
		To:        &to,
		Value:     big.NewInt(1),
		Gas:       21000,
		GasTipCap: big.NewInt(1e9),
		GasFeeCap: big.NewInt(2e9),
	})
	signed, err := s.Sign(context.Background(), tx)
	require.NoError(t, err)

	from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	require.Equal(t, s.Address(), from)
}

func TestLocalSignerValidation(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	_, err = NewLocalSigner(nil, big.NewInt(1))
	require.ErrorContains(t, err, "nil private key")
	_, err = NewLocalSigner(priv, nil)
	require.ErrorContains(t, err, "nil chain ID")
}

func TestLocalSignerClosed(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	s, err := NewLocalSigner(priv, big.NewInt(1337))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	tx := types.NewTx(&types.LegacyTx{Gas: 21000, GasPrice: big.NewInt(1)})
	_, err = s.Sign(context.Background(), tx)
	require.ErrorContains(t, err, "signer is closed")
}
