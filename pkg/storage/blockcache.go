package storage

import (
	"context"
	"errors"

	"github.com/beam-cloud/httpfs/pkg/common"
	log "github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

type BlockCacheOptions struct {
	Memory  MemoryCache
	Disk    BlockStore
	Fetcher BlockFetcher

	// BlockSize is the fixed block length in bytes.
	BlockSize int64

	// Coalesce merges concurrent misses for the same block into one fetch.
	Coalesce bool

	Metrics *common.CacheMetrics
}

// BlockCache serves blocks from memory, then disk, then the network, and
// populates the faster tiers on the way back.
type BlockCache struct {
	memory    MemoryCache
	disk      BlockStore
	fetcher   BlockFetcher
	blockSize int64
	coalesce  bool
	group     singleflight.Group
	metrics   *common.CacheMetrics
}

func NewBlockCache(opts BlockCacheOptions) (*BlockCache, error) {
	if opts.Memory == nil {
		return nil, errors.New("memory tier is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = common.DefaultBlockSize
	}
	if opts.Metrics == nil {
		opts.Metrics = common.NewCacheMetrics()
	}

	return &BlockCache{
		memory:    opts.Memory,
		disk:      opts.Disk,
		fetcher:   opts.Fetcher,
		blockSize: opts.BlockSize,
		coalesce:  opts.Coalesce,
		metrics:   opts.Metrics,
	}, nil
}

// Get returns block index of url. The final block of a resource may be
// shorter than BlockSize, and a block past the end is empty.
func (c *BlockCache) Get(ctx context.Context, url string, index uint64) ([]byte, error) {
	key := common.BlockKey{URL: url, Index: index}

	if data, ok := c.memory.Get(key); ok {
		c.metrics.RecordMemoryHit()
		log.Debug().Str("block", key.String()).Msg("memory hit")
		return data, nil
	}
	c.metrics.RecordMemoryMiss()

	if !c.coalesce {
		return c.load(ctx, key)
	}

	v, err, shared := c.group.Do(key.String(), func() (interface{}, error) {
		return c.load(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debug().Str("block", key.String()).Msg("joined in-flight fetch")
	}
	return v.([]byte), nil
}

func (c *BlockCache) load(ctx context.Context, key common.BlockKey) ([]byte, error) {
	if c.disk != nil {
		data, ok, err := c.disk.Get(key)
		if err != nil {
			log.Warn().Err(err).Str("block", key.String()).Msg("disk cache read failed")
		}
		if ok {
			c.metrics.RecordDiskHit()
			log.Debug().Str("block", key.String()).Msg("disk hit")
			c.memory.Add(key, data)
			return data, nil
		}
		c.metrics.RecordDiskMiss()
	}

	data, err := c.fetcher.FetchBlock(ctx, key.URL, key.Index, c.blockSize)
	if err != nil {
		return nil, err
	}

	if c.disk != nil {
		if err := c.disk.Set(key, data); err != nil {
			log.Warn().Err(err).Str("block", key.String()).Msg("disk cache write failed")
		}
	}
	c.memory.Add(key, data)

	return data, nil
}

func (c *BlockCache) BlockSize() int64 {
	return c.blockSize
}

func (c *BlockCache) Fetcher() BlockFetcher {
	return c.fetcher
}

func (c *BlockCache) Metrics() *common.CacheMetrics {
	return c.metrics
}

// Close releases the disk tier. Its content stays on disk.
func (c *BlockCache) Close() error {
	c.memory.Purge()
	if c.disk == nil {
		return nil
	}
	return c.disk.Close()
}
