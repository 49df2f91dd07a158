package forecasting

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Cache defaults. The TTL matches the quote refresh interval of the callers.
const (
	DefaultCacheTTL        = 60 * time.Second
	DefaultCacheMaxEntries = 256
)

type cacheEntry struct {
	record    PredictionRecord
	expiresAt time.Time
}

// PredictionCache keeps recent prediction records keyed by ticker and the
// exact price series they were computed from.
//
// Expired entries are never returned. When the cache is full, the entry that
// expires first is evicted to make room.
type PredictionCache struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// NewPredictionCache creates a cache. Non-positive arguments select the defaults.
func NewPredictionCache(ttl time.Duration, maxEntries int) *PredictionCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}
	return &PredictionCache{
		entries:    make(map[string]cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// TTL returns the time-to-live applied to new entries
func (c *PredictionCache) TTL() time.Duration {
	return c.ttl
}

// Get returns a copy of the cached record for ticker and prices, if fresh.
func (c *PredictionCache) Get(ticker string, prices []float64) (*PredictionRecord, bool) {
	key := cacheKey(ticker, prices)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return copyRecord(&entry.record), true
}

// Put stores a copy of record. Nil records are ignored.
func (c *PredictionCache) Put(ticker string, prices []float64, record *PredictionRecord) {
	if record == nil {
		return
	}
	key := cacheKey(ticker, prices)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[key] = cacheEntry{
		record:    *copyRecord(record),
		expiresAt: c.now().Add(c.ttl),
	}
}

// Len returns the number of entries, including expired ones not yet removed
func (c *PredictionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry. Called when a new model replaces the old one.
func (c *PredictionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// DeleteExpired removes expired entries and returns how many were removed
func (c *PredictionCache) DeleteExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// evictLocked drops expired entries, or the one expiring soonest if none are.
func (c *PredictionCache) evictLocked() {
	now := c.now()
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
			continue
		}
		if oldestKey == "" || entry.expiresAt.Before(oldestAt) {
			oldestKey, oldestAt = key, entry.expiresAt
		}
	}
	if len(c.entries) >= c.maxEntries && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func cacheKey(ticker string, prices []float64) string {
	h := fnv.New64a()
	var buf [8]byte
	for _, p := range prices {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(p))
		h.Write(buf[:])
	}
	return ticker + ":" + strconv.Itoa(len(prices)) + ":" + strconv.FormatUint(h.Sum64(), 16)
}

func copyRecord(r *PredictionRecord) *PredictionRecord {
	out := *r
	if r.Indicators != nil {
		ind := *r.Indicators
		out.Indicators = &ind
	}
	return &out
}

// CacheCleanupJob removes expired prediction cache entries.
type CacheCleanupJob struct {
	cache *PredictionCache
	log   zerolog.Logger
}

// NewCacheCleanupJob creates the cleanup job for cache
func NewCacheCleanupJob(cache *PredictionCache, log zerolog.Logger) *CacheCleanupJob {
	return &CacheCleanupJob{
		cache: cache,
		log:   log.With().Str("job", "prediction_cache_cleanup").Logger(),
	}
}

// Run executes the cleanup
func (j *CacheCleanupJob) Run() error {
	removed := j.cache.DeleteExpired()
	if removed > 0 {
		j.log.Debug().
			Int("deleted", removed).
			Int("remaining", j.cache.Len()).
			Msg("Cleaned up expired predictions")
	}
	return nil
}

// Name returns the job name for scheduling and logging.
func (j *CacheCleanupJob) Name() string {
	return "prediction_cache_cleanup"
}
