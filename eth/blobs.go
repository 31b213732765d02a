package eth

import (
	"crypto/sha256"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"
)

// BlobSize is the size of an EIP-4844 blob, in bytes.
const BlobSize = 4096 * 32

type Blob [BlobSize]byte

func (b *Blob) KZGBlob() *kzg4844.Blob {
	return (*kzg4844.Blob)(b)
}

func (b Blob) MarshalText() ([]byte, error) {
	return []byte(hexutil.Encode(b[:])), nil
}

func (b *Blob) UnmarshalText(text []byte) error {
	return hexutil.UnmarshalFixedText("Blob", text, b[:])
}

func (b Blob) TerminalString() string {
	return fmt.Sprintf("%x..%x", b[:3], b[BlobSize-3:])
}

type Bytes48 [48]byte

func (b Bytes48) MarshalText() ([]byte, error) {
	return []byte(hexutil.Encode(b[:])), nil
}

func (b *Bytes48) UnmarshalText(text []byte) error {
	return hexutil.UnmarshalFixedText("Bytes48", text, b[:])
}

func (b Bytes48) String() string {
	return hexutil.Encode(b[:])
}

// Uint64String is a decimal string representation of an uint64, for usage in the Beacon API JSON encoding.
type Uint64String uint64

func (v Uint64String) MarshalText() (out []byte, err error) {
	return []byte(strconv.FormatUint(uint64(v), 10)), nil
}

func (v *Uint64String) UnmarshalText(b []byte) error {
	n, err := strconv.ParseUint(string(b), 0, 64)
	if err != nil {
		return err
	}
	*v = Uint64String(n)
	return nil
}

// IndexedBlobHash represents a blob hash that commits to a single blob confirmed in a block.
// The index helps us avoid unnecessary blob to blob hash conversions to find the right content in a sidecar.
type IndexedBlobHash struct {
	Index uint64      // absolute index in the block, a.k.a. position in sidecar blobs array
	Hash  common.Hash // hash of the blob, used for consistency checks
}

// BlobSidecar holds a blob with the proof data needed to verify it against its
// versioned hash, as served by the beacon node blob_sidecars endpoint.
type BlobSidecar struct {
	Blob          Blob         `json:"blob"`
	Index         Uint64String `json:"index"`
	KZGCommitment Bytes48      `json:"kzg_commitment"`
	KZGProof      Bytes48      `json:"kzg_proof"`
}

// APIBlobSidecar is the beacon API response entry wrapping a BlobSidecar.
type APIBlobSidecar struct {
	Index         Uint64String `json:"index"`
	Blob          Blob         `json:"blob"`
	KZGCommitment Bytes48      `json:"kzg_commitment"`
	KZGProof      Bytes48      `json:"kzg_proof"`
}

func (sc *APIBlobSidecar) BlobSidecar() *BlobSidecar {
	return &BlobSidecar{
		Blob:          sc.Blob,
		Index:         sc.Index,
		KZGCommitment: sc.KZGCommitment,
		KZGProof:      sc.KZGProof,
	}
}

// KZGToVersionedHash computes the "blob hash" (a.k.a. versioned-hash) of a blob-commitment, as used in a blob-tx.
// We implement it here because it is unfortunately not exposed by geth.
func KZGToVersionedHash(commitment kzg4844.Commitment) (out common.Hash) {
	// EIP-4844 spec:
	//	def kzg_to_versioned_hash(commitment: KZGCommitment) -> VersionedHash:
	//		return VERSIONED_HASH_VERSION_KZG + sha256(commitment)[1:]
	h := sha256.New()
	h.Write(commitment[:])
	_ = h.Sum(out[:0])
	out[0] = 0x01 // VERSIONED_HASH_VERSION_KZG
	return out
}

// VerifyBlobProof verifies that the given blob and proof corresponds to the given commitment.
func VerifyBlobProof(blob *Blob, commitment kzg4844.Commitment, proof kzg4844.Proof) error {
	return kzg4844.VerifyBlobProof(blob.KZGBlob(), commitment, proof)
}

// Verify checks that the sidecar's blob matches its KZG commitment and proof,
// and that the commitment matches the given versioned hash.
func (sc *BlobSidecar) Verify(hash IndexedBlobHash) error {
	if sc.Index != Uint64String(hash.Index) {
		return fmt.Errorf("invalid sidecar index %d, expected %d", sc.Index, hash.Index)
	}
	if computed := KZGToVersionedHash(kzg4844.Commitment(sc.KZGCommitment)); computed != hash.Hash {
		return fmt.Errorf("expected hash %s for blob at index %d but got %s", hash.Hash, hash.Index, computed)
	}
	if err := VerifyBlobProof(&sc.Blob, kzg4844.Commitment(sc.KZGCommitment), kzg4844.Proof(sc.KZGProof)); err != nil {
		return fmt.Errorf("blob at index %d failed verification: %w", hash.Index, err)
	}
	return nil
}
