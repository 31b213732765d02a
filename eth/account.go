package eth

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type StorageProofEntry struct {
	Key   hexutil.Bytes   `json:"key"`
	Value hexutil.Big     `json:"value"`
	Proof []hexutil.Bytes `json:"proof"`
}

// AccountResult is the result of an eth_getProof call: the account fields
// with Merkle proofs for the account and any requested storage slots.
type AccountResult struct {
	AccountProof []hexutil.Bytes `json:"accountProof"`

	Address  common.Address `json:"address"`
	Balance  *hexutil.Big   `json:"balance"`
	CodeHash common.Hash    `json:"codeHash"`
	Nonce    hexutil.Uint64 `json:"nonce"`

	StorageHash  common.Hash         `json:"storageHash"`
	StorageProof []StorageProofEntry `json:"storageProof"`
}
