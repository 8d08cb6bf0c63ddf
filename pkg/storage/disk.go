package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/beam-cloud/httpfs/pkg/common"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/karrick/godirwalk"
	log "github.com/rs/zerolog/log"
	"github.com/tidwall/btree"
)

const (
	diskLockFile       = ".lock"
	diskTempSuffix     = ".tmp"
	defaultLockTimeout = 10 * time.Second
)

type DiskCacheOptions struct {
	Dir      string
	MaxBytes int64

	// LockTimeout bounds how long OpenDiskCache waits for another process
	// to release the cache directory.
	LockTimeout time.Duration
}

type diskEntry struct {
	name string
	size int64
	seq  uint64
}

// DiskCache stores one file per block under Dir and keeps the total size
// under MaxBytes by removing the least recently used files. Recency survives
// restarts through file modification times.
type DiskCache struct {
	dir      string
	maxBytes int64
	lock     *flock.Flock

	mu      sync.Mutex
	entries map[string]*diskEntry
	order   *btree.BTreeG[*diskEntry]
	size    int64
	seq     uint64
}

func OpenDiskCache(opts DiskCacheOptions) (*DiskCache, error) {
	if opts.Dir == "" {
		return nil, errors.New("disk cache directory cannot be empty")
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = common.DefaultDiskCacheSize
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create disk cache dir: %w", err)
	}

	fileLock := flock.New(filepath.Join(opts.Dir, diskLockFile))
	ctx, cancel := context.WithTimeout(context.Background(), opts.LockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil || !locked {
		return nil, fmt.Errorf("disk cache %s is in use by another process: %v", opts.Dir, err)
	}

	c := &DiskCache{
		dir:      opts.Dir,
		maxBytes: opts.MaxBytes,
		lock:     fileLock,
		entries:  make(map[string]*diskEntry),
		order: btree.NewBTreeG(func(a, b *diskEntry) bool {
			return a.seq < b.seq
		}),
	}

	if err := c.load(); err != nil {
		fileLock.Unlock()
		return nil, err
	}

	log.Info().
		Str("dir", opts.Dir).
		Int("blocks", len(c.entries)).
		Int64("bytes", c.size).
		Int64("max_bytes", c.maxBytes).
		Msg("opened disk cache")

	return c, nil
}

// load rebuilds the index from the files already present in the cache dir.
func (c *DiskCache) load() error {
	type found struct {
		name  string
		size  int64
		mtime time.Time
	}
	var files []found

	err := godirwalk.Walk(c.dir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}

			name := de.Name()
			if strings.HasSuffix(name, diskTempSuffix) {
				// Leftover from an interrupted write
				os.Remove(path)
				return nil
			}
			if strings.HasPrefix(name, ".") {
				return nil
			}

			info, err := os.Stat(path)
			if err != nil {
				return nil
			}
			files = append(files, found{name: name, size: info.Size(), mtime: info.ModTime()})
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("failed to scan disk cache: %w", err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mtime.Before(files[j].mtime) })

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, f := range files {
		c.seq++
		e := &diskEntry{name: f.name, size: f.size, seq: c.seq}
		c.entries[f.name] = e
		c.order.Set(e)
		c.size += f.size
	}
	c.evictLocked()

	return nil
}

func (c *DiskCache) Get(key common.BlockKey) ([]byte, bool, error) {
	name := blockFileName(key)

	c.mu.Lock()
	e, ok := c.entries[name]
	if ok {
		c.touchLocked(e)
	}
	c.mu.Unlock()

	if !ok {
		return nil, false, nil
	}

	path := c.blockPath(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.forget(e)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cached block %s: %w", key, err)
	}

	now := time.Now()
	os.Chtimes(path, now, now)

	return data, true, nil
}

func (c *DiskCache) Set(key common.BlockKey, data []byte) error {
	size := int64(len(data))
	if size > c.maxBytes {
		log.Debug().Str("key", key.String()).Int64("size", size).Msg("block larger than disk budget, not caching")
		return nil
	}

	name := blockFileName(key)
	path := c.blockPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create block dir: %w", err)
	}

	tmpPath := fmt.Sprintf("%s.%s%s", path, uuid.New().String()[:8], diskTempSuffix)
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write block: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename block: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[name]; ok {
		c.order.Delete(old)
		c.size -= old.size
	}

	c.seq++
	e := &diskEntry{name: name, size: size, seq: c.seq}
	c.entries[name] = e
	c.order.Set(e)
	c.size += size
	c.evictLocked()

	return nil
}

// touchLocked marks e as most recently used.
func (c *DiskCache) touchLocked(e *diskEntry) {
	c.order.Delete(e)
	c.seq++
	e.seq = c.seq
	c.order.Set(e)
}

func (c *DiskCache) forget(e *diskEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.entries[e.name]; ok && cur == e {
		delete(c.entries, e.name)
		c.order.Delete(e)
		c.size -= e.size
	}
}

func (c *DiskCache) evictLocked() {
	for c.size > c.maxBytes {
		e, ok := c.order.PopMin()
		if !ok {
			return
		}

		delete(c.entries, e.name)
		c.size -= e.size

		if err := os.Remove(c.blockPath(e.name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("block", e.name).Msg("failed to remove evicted block")
		}
	}
}

// Len returns the number of cached blocks.
func (c *DiskCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Size returns the number of cached bytes.
func (c *DiskCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *DiskCache) Dir() string {
	return c.dir
}

// Close releases the directory lock. Cached blocks stay on disk.
func (c *DiskCache) Close() error {
	return c.lock.Unlock()
}

func (c *DiskCache) blockPath(name string) string {
	return filepath.Join(c.dir, name[:2], name)
}

func blockFileName(key common.BlockKey) string {
	sum := sha256.Sum256([]byte(key.String()))
	return hex.EncodeToString(sum[:])
}
