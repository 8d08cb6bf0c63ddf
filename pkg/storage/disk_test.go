package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/beam-cloud/httpfs/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskCacheSetGet(t *testing.T) {
	dir := t.TempDir()
	cache, err := OpenDiskCache(DiskCacheOptions{Dir: dir, MaxBytes: 1 << 20})
	require.NoError(t, err)
	defer cache.Close()

	key := common.BlockKey{URL: testURL, Index: 7}
	_, ok, err := cache.Get(key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(key, []byte("block seven")))

	data, ok, err := cache.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("block seven"), data)

	// Overwriting keeps a single entry
	require.NoError(t, cache.Set(key, []byte("seven")))
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, int64(5), cache.Size())

	name := blockFileName(key)
	_, err = os.Stat(filepath.Join(dir, name[:2], name))
	assert.NoError(t, err)
}

func TestDiskCacheEvictsLeastRecentlyUsed(t *testing.T) {
	cache, err := OpenDiskCache(DiskCacheOptions{Dir: t.TempDir(), MaxBytes: 30})
	require.NoError(t, err)
	defer cache.Close()

	k0 := common.BlockKey{URL: testURL, Index: 0}
	k1 := common.BlockKey{URL: testURL, Index: 1}
	k2 := common.BlockKey{URL: testURL, Index: 2}
	block := make([]byte, 10)

	require.NoError(t, cache.Set(k0, block))
	require.NoError(t, cache.Set(k1, block))
	require.NoError(t, cache.Set(k2, block))

	_, ok, err := cache.Get(k0)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, cache.Set(common.BlockKey{URL: testURL, Index: 3}, block))

	assert.Equal(t, 3, cache.Len())
	assert.LessOrEqual(t, cache.Size(), int64(30))

	_, ok, _ = cache.Get(k1)
	assert.False(t, ok, "k1 was least recently used")
	_, ok, _ = cache.Get(k0)
	assert.True(t, ok)
	_, ok, _ = cache.Get(k2)
	assert.True(t, ok)
}

func TestDiskCacheSkipsOversizedBlock(t *testing.T) {
	cache, err := OpenDiskCache(DiskCacheOptions{Dir: t.TempDir(), MaxBytes: 4})
	require.NoError(t, err)
	defer cache.Close()

	key := common.BlockKey{URL: testURL, Index: 0}
	require.NoError(t, cache.Set(key, []byte("too large")))

	_, ok, err := cache.Get(key)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestDiskCachePersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	key := common.BlockKey{URL: testURL, Index: 1}

	cache, err := OpenDiskCache(DiskCacheOptions{Dir: dir, MaxBytes: 1 << 20})
	require.NoError(t, err)
	require.NoError(t, cache.Set(key, []byte("persisted")))
	require.NoError(t, cache.Close())

	// Leftover temp file from an interrupted write
	stray := filepath.Join(dir, "ab", "abcdef.1234abcd.tmp")
	require.NoError(t, os.MkdirAll(filepath.Dir(stray), 0755))
	require.NoError(t, os.WriteFile(stray, []byte("partial"), 0644))

	reopened, err := OpenDiskCache(DiskCacheOptions{Dir: dir, MaxBytes: 1 << 20})
	require.NoError(t, err)
	defer reopened.Close()

	data, ok, err := reopened.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("persisted"), data)
	assert.Equal(t, 1, reopened.Len())

	_, err = os.Stat(stray)
	assert.True(t, os.IsNotExist(err))
}

func TestDiskCacheLockedByAnotherOwner(t *testing.T) {
	dir := t.TempDir()

	cache, err := OpenDiskCache(DiskCacheOptions{Dir: dir})
	require.NoError(t, err)
	defer cache.Close()

	_, err = OpenDiskCache(DiskCacheOptions{Dir: dir, LockTimeout: 200 * time.Millisecond})
	assert.Error(t, err)
}
