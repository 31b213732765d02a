// Package provider exposes a typed Ethereum RPC surface over a JSON-RPC
// client, with hash-keyed caching, result verification for untrusted RPCs,
// transaction fillers, and a pending-transaction heartbeat.
package provider

import (
	"fmt"
	"time"
)

type Config struct {
	// Maximum number of requests to make per batch
	MaxRequestsPerBatch int

	// limit concurrent requests, applies to the provider as a whole
	MaxConcurrentRequests int

	// cache sizes

	// Number of blocks worth of receipts to cache
	ReceiptsCacheSize int
	// Number of blocks worth of transactions to cache
	TransactionsCacheSize int
	// Number of block headers to cache
	HeadersCacheSize int
	// Number of block refs to keep in the number-ordered cache
	BlockRefsCacheSize int

	// If the RPC is untrusted, then we should not use cached information from
	// responses, and instead verify against the block-hash.
	TrustRPC bool

	// If the RPC must ensure that results fit the post-merge header format.
	// If this is not checked, disabled header fields like the nonce or
	// difficulty may be used to get a different block-hash.
	MustBePostMerge bool

	// Expected block time, drives receipt polling and the heartbeat interval.
	BlockTime time.Duration

	// Number of blocks on top of the inclusion block before a pending
	// transaction is reported as confirmed.
	ConfirmationDepth uint64
}

// DefaultConfig creates a new provider config,
// with caching of data using the given cache-size (in number of blocks).
func DefaultConfig(cacheSize int) *Config {
	return &Config{
		// receipts and transactions are cached per block
		ReceiptsCacheSize:     cacheSize,
		TransactionsCacheSize: cacheSize,
		HeadersCacheSize:      cacheSize,
		BlockRefsCacheSize:    cacheSize,
		MaxRequestsPerBatch:   20,
		MaxConcurrentRequests: 10,
		TrustRPC:              false,
		MustBePostMerge:       true,
		BlockTime:             12 * time.Second,
		ConfirmationDepth:     1,
	}
}

func (c *Config) Check() error {
	if c.ReceiptsCacheSize < 0 {
		return fmt.Errorf("invalid receipts cache size: %d", c.ReceiptsCacheSize)
	}
	if c.TransactionsCacheSize < 0 {
		return fmt.Errorf("invalid transactions cache size: %d", c.TransactionsCacheSize)
	}
	if c.HeadersCacheSize < 0 {
		return fmt.Errorf("invalid headers cache size: %d", c.HeadersCacheSize)
	}
	if c.BlockRefsCacheSize < 0 {
		return fmt.Errorf("invalid blockrefs cache size: %d", c.BlockRefsCacheSize)
	}
	if c.MaxConcurrentRequests < 1 {
		return fmt.Errorf("expected at least 1 concurrent request, but max is %d", c.MaxConcurrentRequests)
	}
	if c.MaxRequestsPerBatch < 1 {
		return fmt.Errorf("expected at least 1 request per batch, but max is: %d", c.MaxRequestsPerBatch)
	}
	if c.BlockTime <= 0 {
		return fmt.Errorf("invalid block time: %s", c.BlockTime)
	}
	return nil
}
