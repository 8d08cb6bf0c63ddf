package common

import (
	"sync"

	log "github.com/rs/zerolog/log"
)

// CacheMetrics counts lookups against the block cache tiers.
type CacheMetrics struct {
	mu sync.RWMutex

	MemoryHits   int64
	MemoryMisses int64
	DiskHits     int64
	DiskMisses   int64

	// Network fetch metrics
	FetchRequests int64
	FetchBytes    int64
	FetchErrors   int64
}

func NewCacheMetrics() *CacheMetrics {
	return &CacheMetrics{}
}

func (m *CacheMetrics) RecordMemoryHit() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.MemoryHits++
	m.logPeriodically()
}

func (m *CacheMetrics) RecordMemoryMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.MemoryMisses++
	m.logPeriodically()
}

func (m *CacheMetrics) RecordDiskHit() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DiskHits++
}

func (m *CacheMetrics) RecordDiskMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DiskMisses++
}

// RecordFetch records one completed range request against the remote.
func (m *CacheMetrics) RecordFetch(url string, bytesRead int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FetchRequests++
	m.FetchBytes += bytesRead

	log.Debug().
		Str("url", url).
		Int64("bytes", bytesRead).
		Int64("total_requests", m.FetchRequests).
		Int64("total_bytes", m.FetchBytes).
		Msg("range GET recorded")
}

func (m *CacheMetrics) RecordFetchError() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FetchErrors++
}

// logPeriodically must be called with mu held.
func (m *CacheMetrics) logPeriodically() {
	lookups := m.MemoryHits + m.MemoryMisses
	if lookups == 0 || lookups%100 != 0 {
		return
	}

	log.Debug().
		Int64("lru_hits", m.MemoryHits).
		Int64("lru_misses", m.MemoryMisses).
		Int64("disk_hits", m.DiskHits).
		Int64("disk_misses", m.DiskMisses).
		Float64("lru_hit_rate", float64(m.MemoryHits)/float64(lookups)).
		Msg("block cache stats")
}

// Snapshot returns a copy of the counters.
func (m *CacheMetrics) Snapshot() CacheMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return CacheMetricsSnapshot{
		MemoryHits:    m.MemoryHits,
		MemoryMisses:  m.MemoryMisses,
		DiskHits:      m.DiskHits,
		DiskMisses:    m.DiskMisses,
		FetchRequests: m.FetchRequests,
		FetchBytes:    m.FetchBytes,
		FetchErrors:   m.FetchErrors,
	}
}

// CacheMetricsSnapshot is a point-in-time copy of CacheMetrics
type CacheMetricsSnapshot struct {
	MemoryHits    int64
	MemoryMisses  int64
	DiskHits      int64
	DiskMisses    int64
	FetchRequests int64
	FetchBytes    int64
	FetchErrors   int64
}

func (s CacheMetricsSnapshot) PrintSummary() {
	log.Info().
		Int64("lru_hits", s.MemoryHits).
		Int64("lru_misses", s.MemoryMisses).
		Int64("disk_hits", s.DiskHits).
		Int64("disk_misses", s.DiskMisses).
		Msg("block cache stats")

	log.Info().
		Int64("requests", s.FetchRequests).
		Int64("bytes", s.FetchBytes).
		Int64("errors", s.FetchErrors).
		Msg("range GET stats")
}
