package eth

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
)

// BlockInfo is a subset of a block's header, with the block hash pre-computed.
// Unlike *types.Header, implementations do not recompute the hash on every access.
type BlockInfo interface {
	Hash() common.Hash
	ParentHash() common.Hash
	Coinbase() common.Address
	Root() common.Hash // state-root
	NumberU64() uint64
	Time() uint64
	// MixDigest field, reused for randomness after the merge
	MixDigest() common.Hash
	BaseFee() *big.Int
	// BlobBaseFee of the block, if the block supports blobs
	BlobBaseFee() *big.Int
	ReceiptHash() common.Hash
	GasUsed() uint64
	GasLimit() uint64
	ParentBeaconRoot() *common.Hash

	// HeaderRLP returns the RLP of the block header as seen by a verifying node
	HeaderRLP() ([]byte, error)
}

type headerInfo struct {
	hash common.Hash
	*types.Header
}

var _ BlockInfo = (*headerInfo)(nil)

func (h headerInfo) Hash() common.Hash {
	return h.hash
}

func (h headerInfo) ParentHash() common.Hash {
	return h.Header.ParentHash
}

func (h headerInfo) Coinbase() common.Address {
	return h.Header.Coinbase
}

func (h headerInfo) Root() common.Hash {
	return h.Header.Root
}

func (h headerInfo) NumberU64() uint64 {
	return h.Header.Number.Uint64()
}

func (h headerInfo) Time() uint64 {
	return h.Header.Time
}

func (h headerInfo) MixDigest() common.Hash {
	return h.Header.MixDigest
}

func (h headerInfo) BaseFee() *big.Int {
	return h.Header.BaseFee
}

func (h headerInfo) BlobBaseFee() *big.Int {
	if h.Header.ExcessBlobGas == nil {
		return nil
	}
	return CalcBlobFee(h.Header)
}

func (h headerInfo) ReceiptHash() common.Hash {
	return h.Header.ReceiptHash
}

func (h headerInfo) GasUsed() uint64 {
	return h.Header.GasUsed
}

func (h headerInfo) GasLimit() uint64 {
	return h.Header.GasLimit
}

func (h headerInfo) ParentBeaconRoot() *common.Hash {
	return h.Header.ParentBeaconRoot
}

func (h headerInfo) HeaderRLP() ([]byte, error) {
	return rlp.EncodeToBytes(h.Header)
}

// HeaderInfo wraps a header into a BlockInfo. The hash is computed once, upfront.
func HeaderInfo(header *types.Header) BlockInfo {
	return headerInfo{hash: header.Hash(), Header: header}
}

// RPCHeader is a block header as served over JSON-RPC:
// the regular header data, plus the block hash claimed by the server.
type RPCHeader struct {
	Header    types.Header
	BlockHash common.Hash
}

func (h *RPCHeader) UnmarshalJSON(data []byte) error {
	if err := h.Header.UnmarshalJSON(data); err != nil {
		return err
	}
	var aux struct {
		Hash common.Hash `json:"hash"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	h.BlockHash = aux.Hash
	return nil
}

func (h *RPCHeader) MarshalJSON() ([]byte, error) {
	dat, err := h.Header.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(dat, &fields); err != nil {
		return nil, err
	}
	hash, err := json.Marshal(h.BlockHash)
	if err != nil {
		return nil, err
	}
	fields["hash"] = hash
	return json.Marshal(fields)
}

// checkPostMerge sanity-checks that header fields retired by the merge are not
// abused to serve a block with a different hash.
func (h *RPCHeader) checkPostMerge() error {
	if h.Header.UncleHash != types.EmptyUncleHash {
		return fmt.Errorf("unexpected uncles hash in block %s: %s", h.BlockHash, h.Header.UncleHash)
	}
	if h.Header.Difficulty != nil && h.Header.Difficulty.Sign() != 0 {
		return fmt.Errorf("unexpected difficulty %s in block %s", h.Header.Difficulty, h.BlockHash)
	}
	if h.Header.Nonce != (types.BlockNonce{}) {
		return fmt.Errorf("unexpected nonce in block %s: %v", h.BlockHash, h.Header.Nonce)
	}
	return nil
}

// Info turns the RPC header into a BlockInfo.
// When the RPC is not trusted the block hash is recomputed and checked
// against the hash claimed by the server.
func (h *RPCHeader) Info(trustCache bool, mustBePostMerge bool) (BlockInfo, error) {
	if mustBePostMerge {
		if err := h.checkPostMerge(); err != nil {
			return nil, err
		}
	}
	if !trustCache {
		if computed := h.Header.Hash(); computed != h.BlockHash {
			return nil, fmt.Errorf("header blockhash does not match: computed %s but RPC said %s", computed, h.BlockHash)
		}
	}
	header := h.Header // copy, the info must not be mutated through the RPC struct
	return headerInfo{hash: h.BlockHash, Header: &header}, nil
}

// RPCBlock is a block as served over JSON-RPC, with full transactions.
type RPCBlock struct {
	RPCHeader
	Transactions []*types.Transaction `json:"transactions"`
}

func (b *RPCBlock) UnmarshalJSON(data []byte) error {
	if err := b.RPCHeader.UnmarshalJSON(data); err != nil {
		return err
	}
	var aux struct {
		Transactions []*types.Transaction `json:"transactions"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	b.Transactions = aux.Transactions
	return nil
}

// verify checks that the transactions in the block match the transactions-root
// committed to by the header.
func (b *RPCBlock) verify() error {
	if computed := types.DeriveSha(types.Transactions(b.Transactions), trie.NewStackTrie(nil)); computed != b.Header.TxHash {
		return fmt.Errorf("transactions root %s of block %s does not match transactions: %s", b.Header.TxHash, b.BlockHash, computed)
	}
	return nil
}

// Info turns the RPC block into a BlockInfo with transactions.
// When the RPC is not trusted both the header hash and the transactions-root
// are verified against the returned data.
func (b *RPCBlock) Info(trustCache bool, mustBePostMerge bool) (BlockInfo, types.Transactions, error) {
	info, err := b.RPCHeader.Info(trustCache, mustBePostMerge)
	if err != nil {
		return nil, nil, err
	}
	if !trustCache {
		if err := b.verify(); err != nil {
			return nil, nil, err
		}
	}
	return info, b.Transactions, nil
}

// TransactionsToHashes computes the hash of each transaction.
func TransactionsToHashes(elems []*types.Transaction) []common.Hash {
	out := make([]common.Hash, len(elems))
	for i, el := range elems {
		out[i] = el.Hash()
	}
	return out
}
