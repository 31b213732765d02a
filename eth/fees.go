package eth

import (
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

var (
	minBlobGasPrice            = big.NewInt(1)
	blobGasPriceUpdateFraction = big.NewInt(3338477) // Cancun update fraction
)

// CalcBlobFee computes the blob-gas base fee from the excess blob gas of the
// given header, per the EIP-4844 fee-market rules.
func CalcBlobFee(header *types.Header) *big.Int {
	var excess uint64
	if header.ExcessBlobGas != nil {
		excess = *header.ExcessBlobGas
	}
	return fakeExponential(minBlobGasPrice, new(big.Int).SetUint64(excess), blobGasPriceUpdateFraction)
}

// fakeExponential approximates factor * e ** (numerator / denominator) using
// Taylor expansion, as specified in EIP-4844.
func fakeExponential(factor, numerator, denominator *big.Int) *big.Int {
	var (
		output = new(big.Int)
		accum  = new(big.Int).Mul(factor, denominator)
	)
	for i := 1; accum.Sign() > 0; i++ {
		output.Add(output, accum)

		accum.Mul(accum, numerator)
		accum.Div(accum, denominator)
		accum.Div(accum, big.NewInt(int64(i)))
	}
	return output.Div(output, denominator)
}

// CalcGasFeeCap deterministically computes the recommended gas fee cap given
// the base fee and gas tip cap. The resulting fee cap is equal to:
//
//	gasTipCap + 2*baseFee.
func CalcGasFeeCap(baseFee, gasTipCap *big.Int) *big.Int {
	return new(big.Int).Add(
		gasTipCap,
		new(big.Int).Mul(baseFee, big.NewInt(2)),
	)
}
