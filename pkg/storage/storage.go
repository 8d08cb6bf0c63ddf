package storage

import (
	"context"

	"github.com/beam-cloud/httpfs/pkg/common"
)

// BlockFetcher reads blocks and sizes of remote resources.
type BlockFetcher interface {
	FetchBlock(ctx context.Context, url string, index uint64, blockSize int64) ([]byte, error)
	HeadSize(ctx context.Context, url string) (uint64, error)
}

// MemoryCache is the transient tier in front of the disk cache.
type MemoryCache interface {
	Get(key common.BlockKey) ([]byte, bool)
	Add(key common.BlockKey, data []byte) (evicted bool)
	Purge()
}

// BlockStore is the durable tier. Implementations must be safe for
// concurrent use.
type BlockStore interface {
	Get(key common.BlockKey) ([]byte, bool, error)
	Set(key common.BlockKey, data []byte) error
	Close() error
}

var (
	_ BlockFetcher = (*HTTPFetcher)(nil)
	_ MemoryCache  = (*LRUMemoryCache)(nil)
	_ MemoryCache  = (*RistrettoMemoryCache)(nil)
	_ BlockStore   = (*DiskCache)(nil)
)
