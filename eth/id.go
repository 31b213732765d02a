package eth

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// BlockID identifies a block by both hash and number.
type BlockID struct {
	Hash   common.Hash `json:"hash"`
	Number uint64      `json:"number"`
}

func (id BlockID) String() string {
	return fmt.Sprintf("%s:%d", id.Hash.String(), id.Number)
}

// TerminalString implements log.TerminalStringer, formatting a string for console
// output during logging.
func (id BlockID) TerminalString() string {
	return fmt.Sprintf("%s:%d", id.Hash.TerminalString(), id.Number)
}

// BlockRef is a block reference with enough info to follow the chain backwards.
type BlockRef struct {
	Hash       common.Hash `json:"hash"`
	Number     uint64      `json:"number"`
	ParentHash common.Hash `json:"parentHash"`
	Time       uint64      `json:"timestamp"`
}

func (ref BlockRef) ID() BlockID {
	return BlockID{Hash: ref.Hash, Number: ref.Number}
}

func (ref BlockRef) ParentID() BlockID {
	n := ref.Number
	// Saturate at 0 with subtraction
	if n > 0 {
		n -= 1
	}
	return BlockID{Hash: ref.ParentHash, Number: n}
}

func (ref BlockRef) String() string {
	return ref.ID().String()
}

func (ref BlockRef) TerminalString() string {
	return ref.ID().TerminalString()
}

// BlockLabel identifies a block by its chain position, rather than the block itself.
// Labels are not cacheable: the block a label points at changes over time.
type BlockLabel string

const (
	// Unsafe is the latest block of the chain.
	Unsafe BlockLabel = "latest"
	// Safe is the latest block that is safe from short reorgs.
	Safe BlockLabel = "safe"
	// Finalized is the latest block that cannot reorg at all.
	Finalized BlockLabel = "finalized"
	// Pending is the block currently being built, not part of the canonical chain yet.
	Pending BlockLabel = "pending"
	// Earliest is the first block of the chain.
	Earliest BlockLabel = "earliest"
)

// Arg translates the label into an RPC argument.
func (label BlockLabel) Arg() any { return string(label) }

func (BlockLabel) CheckID(BlockID) error {
	return nil
}

// ToBlockID extracts a BlockID from a BlockInfo.
func ToBlockID(info BlockInfo) BlockID {
	return BlockID{Hash: info.Hash(), Number: info.NumberU64()}
}

// InfoToBlockRef builds a BlockRef from a fetched block.
func InfoToBlockRef(info BlockInfo) BlockRef {
	return BlockRef{
		Hash:       info.Hash(),
		Number:     info.NumberU64(),
		ParentHash: info.ParentHash(),
		Time:       info.Time(),
	}
}

// EncodeUint64 translates a block number into a block-number RPC argument.
func EncodeUint64(n uint64) string {
	return hexutil.EncodeUint64(n)
}
