package httpfs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/beam-cloud/httpfs/pkg/common"
	"github.com/beam-cloud/httpfs/pkg/storage"
	log "github.com/rs/zerolog/log"
)

type attrEntry struct {
	attr        common.Attr
	lastTouched time.Time
}

// AttrCache remembers the size of remote resources so that getattr does not
// issue a HEAD request on every call. Entries not touched within the TTL are
// dropped by a periodic sweep.
type AttrCache struct {
	codec   *common.PathCodec
	fetcher storage.BlockFetcher
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*attrEntry

	timerMu  sync.Mutex
	timer    *time.Timer
	stopped  bool
	interval time.Duration
	ttl      time.Duration
}

func NewAttrCache(codec *common.PathCodec, fetcher storage.BlockFetcher) *AttrCache {
	return &AttrCache{
		codec:   codec,
		fetcher: fetcher,
		now:     time.Now,
		entries: make(map[string]*attrEntry),
	}
}

// Attr returns the attributes of path. Directories are synthetic and never
// touch the network.
func (c *AttrCache) Attr(ctx context.Context, path string) (common.Attr, error) {
	if c.codec.IsRoot(path) || c.codec.IsSchemeRoot(path) {
		return c.dirAttr(), nil
	}
	if _, ok := c.codec.SchemeOf(path); !ok {
		return common.Attr{}, fmt.Errorf("%w: %s", common.ErrNotFound, path)
	}
	if !strings.HasSuffix(path, common.VirtualPathMarker) {
		// Host and directory components leading to a resource
		return c.dirAttr(), nil
	}

	c.mu.Lock()
	if e, ok := c.entries[path]; ok {
		e.lastTouched = c.now()
		attr := e.attr
		c.mu.Unlock()
		return attr, nil
	}
	c.mu.Unlock()

	url, err := c.codec.URL(path)
	if err != nil {
		return common.Attr{}, fmt.Errorf("%w: %v", common.ErrNotFound, err)
	}

	size, err := c.fetcher.HeadSize(ctx, url)
	if err != nil {
		return common.Attr{}, err
	}

	now := c.now()
	attr := common.Attr{Size: size, Mtime: now}

	c.mu.Lock()
	c.entries[path] = &attrEntry{attr: attr, lastTouched: now}
	c.mu.Unlock()

	log.Debug().Str("path", path).Uint64("size", size).Msg("cached attributes")
	return attr, nil
}

func (c *AttrCache) dirAttr() common.Attr {
	return common.Attr{IsDir: true, Mtime: c.now()}
}

// Touch refreshes the entry for path if one exists.
func (c *AttrCache) Touch(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[path]; ok {
		e.lastTouched = c.now()
	}
}

// Sweep removes every entry idle for longer than ttl and returns how many
// were removed.
func (c *AttrCache) Sweep(ttl time.Duration) int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for path, e := range c.entries {
		if now.Sub(e.lastTouched) > ttl {
			delete(c.entries, path)
			removed++
		}
	}

	if removed > 0 {
		log.Debug().Int("removed", removed).Int("remaining", len(c.entries)).Msg("swept attribute cache")
	}
	return removed
}

func (c *AttrCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Start runs Sweep every interval. The next run is scheduled only after the
// previous one finishes, so sweeps never overlap.
func (c *AttrCache) Start(interval, ttl time.Duration) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	if c.timer != nil || c.stopped {
		return
	}
	c.interval = interval
	c.ttl = ttl
	c.timer = time.AfterFunc(interval, c.runSweep)
}

func (c *AttrCache) runSweep() {
	c.Sweep(c.ttl)

	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	if c.stopped {
		return
	}
	c.timer = time.AfterFunc(c.interval, c.runSweep)
}

// Stop cancels the sweep timer. It is safe to call more than once.
func (c *AttrCache) Stop() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
	}
}
