package beacon

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/crypto/kzg4844"

	"github.com/alloy-rs/alloy-sub000/eth"
)

type BlobsFetcherConfig struct {
	// Whether to fetch all sidecars of a slot instead of filtering by index.
	// Some beacon nodes do not support the indices query parameter.
	FetchAllSidecars bool
}

// BlobsFetcher retrieves blobs for blocks from a beacon node, with optional
// fallback endpoints (e.g. blob archives) for expired or missing sidecars.
type BlobsFetcher struct {
	cl        Client
	fallbacks []Client
	cfg       BlobsFetcherConfig

	initLock     sync.Mutex
	timeToSlotFn TimeToSlotFn
}

// NewBlobsFetcher returns a fetcher of blob sidecars from the given beacon
// client, with optional fallbacks tried in order when the primary fails.
func NewBlobsFetcher(cl Client, cfg BlobsFetcherConfig, fallbacks ...Client) *BlobsFetcher {
	return &BlobsFetcher{
		cl:        cl,
		fallbacks: fallbacks,
		cfg:       cfg,
	}
}

type TimeToSlotFn func(timestamp uint64) (uint64, error)

// GetTimeToSlotFn returns a function that converts a timestamp to a slot
// number. The genesis time and slot interval are fetched once and reused.
func (f *BlobsFetcher) GetTimeToSlotFn(ctx context.Context) (TimeToSlotFn, error) {
	f.initLock.Lock()
	defer f.initLock.Unlock()
	if f.timeToSlotFn != nil {
		return f.timeToSlotFn, nil
	}

	genesis, err := f.cl.BeaconGenesis(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch beacon genesis: %w", err)
	}
	config, err := f.cl.ConfigSpec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch beacon config: %w", err)
	}

	genesisTime := uint64(genesis.Data.GenesisTime)
	secondsPerSlot := uint64(config.Data.SecondsPerSlot)
	if secondsPerSlot == 0 {
		return nil, fmt.Errorf("got bad value for seconds per slot: %v", config.Data.SecondsPerSlot)
	}
	f.timeToSlotFn = func(timestamp uint64) (uint64, error) {
		if timestamp < genesisTime {
			return 0, fmt.Errorf("provided timestamp (%v) precedes genesis time (%v)", timestamp, genesisTime)
		}
		return (timestamp - genesisTime) / secondsPerSlot, nil
	}
	return f.timeToSlotFn, nil
}

// GetBlobSidecars fetches the blob sidecars of the block at the given
// timestamp that match the given indexed hashes. The result is ordered by
// the order of the hashes, regardless of the beacon node's ordering.
func (f *BlobsFetcher) GetBlobSidecars(ctx context.Context, blockTime uint64, hashes []eth.IndexedBlobHash) ([]*eth.BlobSidecar, error) {
	if len(hashes) == 0 {
		return []*eth.BlobSidecar{}, nil
	}
	slotFn, err := f.GetTimeToSlotFn(ctx)
	if err != nil {
		return nil, err
	}
	slot, err := slotFn(blockTime)
	if err != nil {
		return nil, fmt.Errorf("failed to compute slot: %w", err)
	}

	resp, err := f.cl.BeaconBlobSideCars(ctx, f.cfg.FetchAllSidecars, slot, hashes)
	for _, fallback := range f.fallbacks {
		if err == nil {
			break
		}
		resp, err = fallback.BeaconBlobSideCars(ctx, f.cfg.FetchAllSidecars, slot, hashes)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blob sidecars of slot %d: %w", slot, err)
	}

	apiscs := make([]*eth.APIBlobSidecar, 0, len(hashes))
	// filter and order by hashes
	for _, h := range hashes {
		for _, apisc := range resp.Data {
			if h.Index == uint64(apisc.Index) {
				apiscs = append(apiscs, apisc)
				break
			}
		}
	}
	if len(hashes) != len(apiscs) {
		return nil, fmt.Errorf("expected %d sidecars but got %d", len(hashes), len(apiscs))
	}

	sidecars := make([]*eth.BlobSidecar, len(apiscs))
	for i, apisc := range apiscs {
		sidecars[i] = apisc.BlobSidecar()
	}
	return sidecars, nil
}

// GetBlobs fetches and verifies the blobs for the given indexed hashes.
func (f *BlobsFetcher) GetBlobs(ctx context.Context, blockTime uint64, hashes []eth.IndexedBlobHash) ([]*eth.Blob, error) {
	sidecars, err := f.GetBlobSidecars(ctx, blockTime, hashes)
	if err != nil {
		return nil, fmt.Errorf("failed to get blob sidecars: %w", err)
	}
	return blobsFromSidecars(sidecars, hashes)
}

// blobsFromSidecars verifies that each sidecar matches its indexed hash,
// that the commitment hashes to the versioned hash, and that the KZG proof
// holds. Sidecars must already be in hash order.
func blobsFromSidecars(sidecars []*eth.BlobSidecar, hashes []eth.IndexedBlobHash) ([]*eth.Blob, error) {
	if len(sidecars) != len(hashes) {
		return nil, fmt.Errorf("number of hashes and sidecars mismatch, %d != %d", len(hashes), len(sidecars))
	}
	out := make([]*eth.Blob, len(hashes))
	for i, hash := range hashes {
		sidecar := sidecars[i]
		if sidx := uint64(sidecar.Index); sidx != hash.Index {
			return nil, fmt.Errorf("expected sidecars to be ordered by hashes, but got %d != %d", sidx, hash.Index)
		}
		// make sure the blob's kzg commitment hashes to the expected value
		if computed := eth.KZGToVersionedHash(kzg4844.Commitment(sidecar.KZGCommitment)); computed != hash.Hash {
			return nil, fmt.Errorf("expected hash %s for blob at index %d but got %s", hash.Hash, hash.Index, computed)
		}
		// confirm blob data is valid by verifying its proof against the commitment
		if err := eth.VerifyBlobProof(&sidecar.Blob, kzg4844.Commitment(sidecar.KZGCommitment), kzg4844.Proof(sidecar.KZGProof)); err != nil {
			return nil, fmt.Errorf("blob at index %d failed verification: %w", hash.Index, err)
		}
		out[i] = &sidecar.Blob
	}
	return out, nil
}
