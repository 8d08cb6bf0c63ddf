package httpfs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/beam-cloud/httpfs/pkg/common"
	"github.com/beam-cloud/httpfs/pkg/storage"
	log "github.com/rs/zerolog/log"
)

// Operations is the set of filesystem verbs served for a mount.
type Operations interface {
	Getattr(ctx context.Context, path string) (common.Attr, error)
	Read(ctx context.Context, path string, size int64, offset int64) ([]byte, error)
	Readdir(ctx context.Context, path string) ([]string, error)
	Destroy()
}

var _ Operations = (*Filesystem)(nil)

type Options struct {
	// Schemes lists the top level directories. Defaults to http and https.
	Schemes []string

	Cache *storage.BlockCache

	// AttrTTL is how long an untouched attribute entry survives a sweep.
	AttrTTL time.Duration

	// CleanupInterval is the delay between attribute sweeps.
	CleanupInterval time.Duration
}

// Filesystem exposes remote resources as read-only files. Every path that
// names a resource ends in "..", so /https/example.com/data.bin.. reads
// https://example.com/data.bin.
type Filesystem struct {
	codec     *common.PathCodec
	cache     *storage.BlockCache
	attrs     *AttrCache
	destroyed atomic.Bool
}

func NewFilesystem(opts Options) (*Filesystem, error) {
	if opts.Cache == nil {
		return nil, errors.New("block cache is required")
	}
	if opts.AttrTTL <= 0 {
		opts.AttrTTL = common.DefaultAttrTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = common.DefaultCleanupInterval
	}

	codec := common.NewPathCodec(opts.Schemes...)
	f := &Filesystem{
		codec: codec,
		cache: opts.Cache,
		attrs: NewAttrCache(codec, opts.Cache.Fetcher()),
	}
	f.attrs.Start(opts.CleanupInterval, opts.AttrTTL)

	return f, nil
}

func (f *Filesystem) Codec() *common.PathCodec {
	return f.codec
}

func (f *Filesystem) Attrs() *AttrCache {
	return f.attrs
}

func (f *Filesystem) Getattr(ctx context.Context, path string) (common.Attr, error) {
	if f.destroyed.Load() {
		return common.Attr{}, common.ErrStaleHandle
	}

	log.Debug().Str("path", path).Msg("getattr")
	return f.attrs.Attr(ctx, path)
}

// Read returns the bytes of [offset, offset+size) clamped to the resource
// size. A read starting at or past the end returns no data.
func (f *Filesystem) Read(ctx context.Context, path string, size int64, offset int64) ([]byte, error) {
	if f.destroyed.Load() {
		return nil, common.ErrStaleHandle
	}

	log.Debug().Str("path", path).Int64("offset", offset).Int64("size", size).Msg("read")

	vp, err := f.codec.Decode(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrNotFound, err)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", common.ErrIO, offset)
	}

	attr, err := f.attrs.Attr(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrIO, err)
	}

	end := offset + size
	if end > int64(attr.Size) {
		end = int64(attr.Size)
	}
	if size <= 0 || offset >= end {
		f.attrs.Touch(path)
		return []byte{}, nil
	}

	url := vp.URL()
	blockSize := f.cache.BlockSize()
	first, last := common.BlockRange(offset, end-offset, blockSize)

	out := make([]byte, 0, end-offset)
	for index := first; index <= last; index++ {
		block, err := f.cache.Get(ctx, url, index)
		if err != nil {
			return nil, fmt.Errorf("%w: block %d of %s: %v", common.ErrIO, index, url, err)
		}
		if f.destroyed.Load() {
			return nil, common.ErrStaleHandle
		}

		blockStart := int64(index) * blockSize
		lo := offset - blockStart
		if lo < 0 {
			lo = 0
		}
		hi := end - blockStart
		if hi > int64(len(block)) {
			hi = int64(len(block))
		}
		if lo >= hi {
			// Remote is shorter than its declared size
			break
		}
		out = append(out, block[lo:hi]...)
	}

	f.attrs.Touch(path)
	return out, nil
}

// Readdir lists the scheme roots at "/". Every other directory is empty,
// and resource paths are not directories.
func (f *Filesystem) Readdir(ctx context.Context, path string) ([]string, error) {
	if f.destroyed.Load() {
		return nil, common.ErrStaleHandle
	}

	log.Debug().Str("path", path).Msg("readdir")

	if f.codec.IsRoot(path) {
		return append([]string{".", ".."}, f.codec.Schemes()...), nil
	}
	if _, ok := f.codec.SchemeOf(path); !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrNotFound, path)
	}
	if strings.HasSuffix(path, common.VirtualPathMarker) {
		return nil, fmt.Errorf("%w: %s", common.ErrNotADirectory, path)
	}

	return []string{".", ".."}, nil
}

// Destroy stops the attribute sweep and releases the block cache. Blocks on
// disk are kept for the next mount. Later calls are no-ops.
func (f *Filesystem) Destroy() {
	if !f.destroyed.CompareAndSwap(false, true) {
		return
	}

	f.attrs.Stop()
	f.cache.Metrics().Snapshot().PrintSummary()

	if err := f.cache.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close block cache")
	}

	log.Info().Msg("filesystem destroyed")
}
