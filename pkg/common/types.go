package common

import (
	"fmt"
	"syscall"
	"time"
)

const (
	DefaultBlockSize       = int64(1 << 16) // 64KiB
	DefaultLRUCapacity     = 400
	DefaultDiskCacheSize   = int64(1 << 30) // 1GiB
	DefaultAttrTTL         = 60 * time.Second
	DefaultCleanupInterval = 60 * time.Second
	DefaultRequestTimeout  = 60 * time.Second

	// VirtualPathMarker terminates every virtual path that names a remote resource.
	VirtualPathMarker = ".."

	FileMode = syscall.S_IFREG | 0444
	DirMode  = syscall.S_IFDIR | 0555
)

var DefaultSchemes = []string{"http", "https"}

// BlockKey identifies one fixed-size block of a remote resource.
type BlockKey struct {
	URL   string
	Index uint64
}

func (k BlockKey) String() string {
	return fmt.Sprintf("%s.%d", k.URL, k.Index)
}

// Attr describes a node of the virtual filesystem.
type Attr struct {
	Size  uint64
	IsDir bool
	Mtime time.Time
}

func (a Attr) Mode() uint32 {
	if a.IsDir {
		return DirMode
	}
	return FileMode
}

// BlockRange returns the first and last block index intersecting
// [offset, offset+size). size must be positive.
func BlockRange(offset int64, size int64, blockSize int64) (uint64, uint64) {
	first := offset / blockSize
	last := (offset + size - 1) / blockSize
	return uint64(first), uint64(last)
}
