package storage

import (
	"fmt"

	"github.com/beam-cloud/httpfs/pkg/common"
	"github.com/beam-cloud/ristretto"
	lru "github.com/hashicorp/golang-lru"
	log "github.com/rs/zerolog/log"
)

// LRUMemoryCache holds at most capacity blocks and evicts the least recently
// read or written block first.
type LRUMemoryCache struct {
	cache *lru.Cache
}

func NewLRUMemoryCache(capacity int) (*LRUMemoryCache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("lru capacity must be positive, got %d", capacity)
	}

	cache, err := lru.NewWithEvict(capacity, func(key interface{}, _ interface{}) {
		log.Debug().Str("key", key.(common.BlockKey).String()).Msg("evicted block from memory")
	})
	if err != nil {
		return nil, err
	}

	return &LRUMemoryCache{cache: cache}, nil
}

func (c *LRUMemoryCache) Get(key common.BlockKey) ([]byte, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (c *LRUMemoryCache) Add(key common.BlockKey, data []byte) bool {
	return c.cache.Add(key, data)
}

// Contains checks for key without touching its recency.
func (c *LRUMemoryCache) Contains(key common.BlockKey) bool {
	return c.cache.Contains(key)
}

func (c *LRUMemoryCache) Len() int {
	return c.cache.Len()
}

func (c *LRUMemoryCache) Purge() {
	c.cache.Purge()
}

// RistrettoMemoryCache bounds the memory tier by bytes rather than entries.
// Admission is frequency based, so it does not give strict LRU ordering.
type RistrettoMemoryCache struct {
	cache *ristretto.Cache[string, []byte]
}

func NewRistrettoMemoryCache(maxBytes int64) (*RistrettoMemoryCache, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("memory cache size must be positive, got %d", maxBytes)
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 1e6,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &RistrettoMemoryCache{cache: cache}, nil
}

func (c *RistrettoMemoryCache) Get(key common.BlockKey) ([]byte, bool) {
	return c.cache.Get(key.String())
}

// Add waits for ristretto to apply the write so the block can be read back
// straight away.
func (c *RistrettoMemoryCache) Add(key common.BlockKey, data []byte) bool {
	c.cache.Set(key.String(), data, int64(len(data)))
	c.cache.Wait()
	return false
}

func (c *RistrettoMemoryCache) Purge() {
	c.cache.Clear()
}
