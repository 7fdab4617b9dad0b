// Package cache implements the bounded result cache that fronts similarity
// search: compressed payloads keyed by query fingerprint, with pluggable
// eviction (LRU, LFU, TTL, adaptive) and counter-cadenced maintenance.
//
// Entries live in an arena indexed by an intrusive doubly linked list that
// tracks recency order, so LRU bookkeeping does not depend on an ordered
// map type.
package cache

import (
	"errors"
	"hash/fnv"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mcpmessenger/shine-skincare-app-sub001/internal/compress"
)

const (
	// entryOverhead approximates per-entry bookkeeping cost counted against
	// the byte budget.
	entryOverhead = 64

	// nilIdx terminates the intrusive recency list.
	nilIdx int32 = -1

	// Compaction thresholds: small, rarely-hit entries are dropped during
	// auto-optimization, at most compactFraction of the population per run.
	compactMaxSize     = 512
	compactMaxHits     = 2
	compactFraction    = 0.10
	hotAccessFactor    = 2.0
	coldAccessFactor   = 0.5
	ttlExtendNumerator = 3 // hot entries get ttl *= 3/2
)

// ErrValueTooLarge is returned when a single value exceeds the byte budget.
var ErrValueTooLarge = errors.New("cache: value larger than capacity")

// Options configures a ResultCache. Immutable after construction.
type Options struct {
	// MaxBytes bounds the sum of entry sizes. Must be > 0.
	MaxBytes int64

	// Policy selects the eviction strategy.
	Policy Policy

	// Compression is the payload block codec.
	Compression compress.Type

	// DefaultTTL applies when Put is called with ttl 0. Zero disables expiry.
	DefaultTTL time.Duration

	// MaintenanceEvery triggers the expiry sweep and auto-optimization every
	// N Put operations.
	MaintenanceEvery int

	// Logger receives maintenance events.
	Logger *slog.Logger

	// Now is the time source; replaced in tests.
	Now func() time.Time
}

// DefaultOptions contains the default cache configuration.
var DefaultOptions = Options{
	MaxBytes:         64 << 20,
	Policy:           PolicyAdaptive,
	Compression:      compress.ZSTD,
	MaintenanceEvery: 128,
}

type entry struct {
	key         uint64
	payload     []byte // compressed block
	createdAt   int64  // unix nanos
	lastAccess  int64
	expiresAt   int64 // 0 = never
	ttl         time.Duration
	accessCount uint64
	size        int64
	prev, next  int32
	used        bool
}

// ResultCache is a bounded, strategy-pluggable cache for search results.
// Safe for concurrent use.
type ResultCache struct {
	opts Options

	mu      sync.Mutex
	arena   []entry
	free    []int32
	index   map[uint64]int32
	head    int32 // most recently used
	tail    int32 // least recently used
	used    int64 // bytes
	stats   Stats
	maint   rate.Sometimes
	accNanos int64 // total Get nanos
	accOps  int64
}

// New creates a ResultCache.
func New(optFns ...func(o *Options)) (*ResultCache, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxBytes <= 0 {
		return nil, errors.New("cache: MaxBytes must be positive")
	}
	if opts.MaintenanceEvery <= 0 {
		opts.MaintenanceEvery = DefaultOptions.MaintenanceEvery
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &ResultCache{
		opts:  opts,
		index: make(map[uint64]int32),
		head:  nilIdx,
		tail:  nilIdx,
		maint: rate.Sometimes{Every: opts.MaintenanceEvery},
	}, nil
}

// WithMaxBytes bounds the cache size in bytes.
func WithMaxBytes(n int64) func(o *Options) {
	return func(o *Options) { o.MaxBytes = n }
}

// WithPolicy selects the eviction strategy.
func WithPolicy(p Policy) func(o *Options) {
	return func(o *Options) { o.Policy = p }
}

// WithCompression selects the payload block codec.
func WithCompression(t compress.Type) func(o *Options) {
	return func(o *Options) { o.Compression = t }
}

// WithDefaultTTL sets the TTL applied when Put passes 0.
func WithDefaultTTL(d time.Duration) func(o *Options) {
	return func(o *Options) { o.DefaultTTL = d }
}

// WithMaintenanceEvery sets the operation cadence of maintenance.
func WithMaintenanceEvery(n int) func(o *Options) {
	return func(o *Options) { o.MaintenanceEvery = n }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// WithClock replaces the time source (tests only).
func WithClock(now func() time.Time) func(o *Options) {
	return func(o *Options) { o.Now = now }
}

// Fingerprint derives a stable cache key from a query vector, k, and any
// extra search parameters (metric name, filter terms). FNV-64a keeps keys
// cheap; collisions only cost a false miss after overwrite.
func Fingerprint(query []float32, k int, params ...string) uint64 {
	h := fnv.New64a()
	var buf [4]byte
	for _, f := range query {
		bits := math.Float32bits(f)
		buf[0] = byte(bits)
		buf[1] = byte(bits >> 8)
		buf[2] = byte(bits >> 16)
		buf[3] = byte(bits >> 24)
		_, _ = h.Write(buf[:])
	}
	buf[0] = byte(k)
	buf[1] = byte(k >> 8)
	buf[2] = byte(k >> 16)
	buf[3] = byte(k >> 24)
	_, _ = h.Write(buf[:])
	for _, p := range params {
		_, _ = h.Write([]byte{0}) // separator
		_, _ = h.Write([]byte(p))
	}
	return h.Sum64()
}

// Get returns the decompressed payload for key, or a miss when absent or
// expired. Expired entries are purged on access. A hit bumps the access
// count and recency position.
func (c *ResultCache) Get(key uint64) ([]byte, bool) {
	start := time.Now()
	defer func() {
		c.mu.Lock()
		c.accNanos += time.Since(start).Nanoseconds()
		c.accOps++
		c.mu.Unlock()
	}()

	c.mu.Lock()
	idx, ok := c.index[key]
	if !ok {
		c.stats.Misses++
		c.mu.Unlock()
		return nil, false
	}

	now := c.opts.Now().UnixNano()
	e := &c.arena[idx]
	if e.expiresAt != 0 && now > e.expiresAt {
		c.removeLocked(idx)
		c.stats.Expirations++
		c.stats.Misses++
		c.mu.Unlock()
		return nil, false
	}

	e.accessCount++
	e.lastAccess = now
	c.moveToFrontLocked(idx)
	c.stats.Hits++
	payload := e.payload
	c.mu.Unlock()

	// Decompress outside the lock; blocks are immutable once stored.
	out, err := compress.Decode(payload)
	if err != nil {
		// A block that fails to decode is useless; drop it.
		c.mu.Lock()
		if i, still := c.index[key]; still {
			c.removeLocked(i)
		}
		c.stats.Hits--
		c.stats.Misses++
		c.mu.Unlock()
		c.opts.Logger.Warn("cache: dropping undecodable entry", "key", key, "error", err)
		return nil, false
	}
	return out, true
}

// Put compresses and stores a value. When the insert would exceed the byte
// budget, entries are evicted by the configured policy first. ttl 0 applies
// the default TTL.
func (c *ResultCache) Put(key uint64, value []byte, ttl time.Duration) error {
	block, err := compress.Encode(value, c.opts.Compression)
	if err != nil {
		return err
	}
	size := int64(len(block)) + entryOverhead

	c.mu.Lock()
	defer c.mu.Unlock()

	if size > c.opts.MaxBytes {
		c.stats.Rejected++
		return ErrValueTooLarge
	}

	if ttl == 0 {
		ttl = c.opts.DefaultTTL
	}
	now := c.opts.Now().UnixNano()
	var expires int64
	if ttl > 0 {
		expires = now + ttl.Nanoseconds()
	}

	if idx, exists := c.index[key]; exists {
		e := &c.arena[idx]
		c.used += size - e.size
		e.payload = block
		e.size = size
		e.ttl = ttl
		e.expiresAt = expires
		e.lastAccess = now
		c.moveToFrontLocked(idx)
	} else {
		if c.used+size > c.opts.MaxBytes {
			c.evictLocked(c.used + size - c.opts.MaxBytes)
		}
		idx := c.allocLocked()
		c.arena[idx] = entry{
			key:        key,
			payload:    block,
			createdAt:  now,
			lastAccess: now,
			expiresAt:  expires,
			ttl:        ttl,
			size:       size,
			prev:       nilIdx,
			next:       nilIdx,
			used:       true,
		}
		c.index[key] = idx
		c.pushFrontLocked(idx)
		c.used += size
	}

	// Overwrites can also overflow the budget.
	if c.used > c.opts.MaxBytes {
		c.evictLocked(c.used - c.opts.MaxBytes)
	}

	c.stats.Puts++
	c.maint.Do(func() {
		c.cleanupExpiredLocked()
		c.autoOptimizeLocked()
	})
	return nil
}

// Delete removes an entry if present.
func (c *ResultCache) Delete(key uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.index[key]
	if !ok {
		return false
	}
	c.removeLocked(idx)
	return true
}

// Clear drops every entry but keeps cumulative stats.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.arena = nil
	c.free = nil
	c.index = make(map[uint64]int32)
	c.head, c.tail = nilIdx, nilIdx
	c.used = 0
}

// Len returns the number of live entries.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// BytesUsed returns the byte budget currently consumed.
func (c *ResultCache) BytesUsed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Stats returns a snapshot including hot/cold entry counts.
func (c *ResultCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Entries = len(c.index)
	s.BytesUsed = c.used
	s.MaxBytes = c.opts.MaxBytes
	s.HotEntries, s.ColdEntries = c.hotColdLocked()
	if c.accOps > 0 {
		s.AvgAccessNanos = c.accNanos / c.accOps
	}
	return s
}

// CleanupExpired sweeps stale entries and returns how many were dropped.
func (c *ResultCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleanupExpiredLocked()
}

// AutoOptimize adjusts TTLs by access frequency and compacts small,
// rarely-hit entries.
func (c *ResultCache) AutoOptimize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoOptimizeLocked()
}

// --- internals (mu held) ---

func (c *ResultCache) allocLocked() int32 {
	if n := len(c.free); n > 0 {
		idx := c.free[n-1]
		c.free = c.free[:n-1]
		return idx
	}
	c.arena = append(c.arena, entry{})
	return int32(len(c.arena) - 1)
}

func (c *ResultCache) removeLocked(idx int32) {
	e := &c.arena[idx]
	c.unlinkLocked(idx)
	delete(c.index, e.key)
	c.used -= e.size
	*e = entry{prev: nilIdx, next: nilIdx}
	c.free = append(c.free, idx)
}

func (c *ResultCache) unlinkLocked(idx int32) {
	e := &c.arena[idx]
	if e.prev != nilIdx {
		c.arena[e.prev].next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nilIdx {
		c.arena[e.next].prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nilIdx, nilIdx
}

func (c *ResultCache) pushFrontLocked(idx int32) {
	e := &c.arena[idx]
	e.prev = nilIdx
	e.next = c.head
	if c.head != nilIdx {
		c.arena[c.head].prev = idx
	}
	c.head = idx
	if c.tail == nilIdx {
		c.tail = idx
	}
}

func (c *ResultCache) moveToFrontLocked(idx int32) {
	if c.head == idx {
		return
	}
	c.unlinkLocked(idx)
	c.pushFrontLocked(idx)
}

// evictLocked frees at least needed bytes using the configured policy.
func (c *ResultCache) evictLocked(needed int64) {
	freed := int64(0)
	evictOne := func(idx int32) {
		freed += c.arena[idx].size
		c.removeLocked(idx)
		c.stats.Evictions++
	}

	switch c.opts.Policy {
	case PolicyLRU:
		for freed < needed && c.tail != nilIdx {
			evictOne(c.tail)
		}

	case PolicyLFU:
		for freed < needed && len(c.index) > 0 {
			victim := nilIdx
			for _, idx := range c.index {
				if victim == nilIdx {
					victim = idx
					continue
				}
				v, cand := &c.arena[victim], &c.arena[idx]
				if cand.accessCount < v.accessCount ||
					(cand.accessCount == v.accessCount && cand.lastAccess < v.lastAccess) {
					victim = idx
				}
			}
			evictOne(victim)
		}

	case PolicyTTL:
		now := c.opts.Now().UnixNano()
		// Expired entries go first.
		for _, idx := range c.indexSnapshotLocked() {
			if freed >= needed {
				return
			}
			e := &c.arena[idx]
			if e.used && e.expiresAt != 0 && now > e.expiresAt {
				evictOne(idx)
			}
		}
		// Then oldest by creation.
		for freed < needed && len(c.index) > 0 {
			victim := nilIdx
			for _, idx := range c.index {
				if victim == nilIdx || c.arena[idx].createdAt < c.arena[victim].createdAt {
					victim = idx
				}
			}
			evictOne(victim)
		}

	case PolicyAdaptive:
		scored, ok := c.adaptiveScoresLocked()
		if !ok {
			c.opts.Logger.Warn("cache: adaptive scoring failed; falling back to LRU")
			for freed < needed && c.tail != nilIdx {
				evictOne(c.tail)
			}
			return
		}
		for _, s := range scored {
			if freed >= needed {
				return
			}
			if c.arena[s.idx].used {
				evictOne(s.idx)
			}
		}

	default:
		for freed < needed && c.tail != nilIdx {
			evictOne(c.tail)
		}
	}
}

type scoredIndex struct {
	idx   int32
	score float64
}

// adaptiveScoresLocked scores every entry; higher means evict sooner.
// Weights: 0.4 recency, 0.3 inverse frequency, 0.2 relative size,
// 0.1 inverse remaining TTL.
func (c *ResultCache) adaptiveScoresLocked() ([]scoredIndex, bool) {
	now := c.opts.Now().UnixNano()

	var oldest int64 = now
	for _, idx := range c.index {
		if la := c.arena[idx].lastAccess; la < oldest {
			oldest = la
		}
	}
	maxAge := float64(now - oldest)

	scored := make([]scoredIndex, 0, len(c.index))
	for _, idx := range c.index {
		e := &c.arena[idx]

		recency := 0.0
		if maxAge > 0 {
			recency = float64(now-e.lastAccess) / maxAge
		}

		frequency := 1.0 / math.Max(1, float64(e.accessCount))
		relSize := float64(e.size) / float64(c.opts.MaxBytes)

		ttlTerm := 0.0
		if e.expiresAt != 0 {
			remaining := float64(e.expiresAt-now) / float64(time.Second)
			ttlTerm = 1.0 / math.Max(1, remaining)
		}

		score := 0.4*recency + 0.3*frequency + 0.2*relSize + 0.1*ttlTerm
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return nil, false
		}
		scored = append(scored, scoredIndex{idx: idx, score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return c.arena[scored[i].idx].lastAccess < c.arena[scored[j].idx].lastAccess
	})
	return scored, true
}

func (c *ResultCache) indexSnapshotLocked() []int32 {
	out := make([]int32, 0, len(c.index))
	for _, idx := range c.index {
		out = append(out, idx)
	}
	return out
}

func (c *ResultCache) cleanupExpiredLocked() int {
	now := c.opts.Now().UnixNano()
	removed := 0
	for _, idx := range c.indexSnapshotLocked() {
		e := &c.arena[idx]
		if e.used && e.expiresAt != 0 && now > e.expiresAt {
			c.removeLocked(idx)
			c.stats.Expirations++
			removed++
		}
	}
	if removed > 0 {
		c.opts.Logger.Debug("cache: expired entries swept", "removed", removed)
	}
	return removed
}

func (c *ResultCache) meanAccessLocked() float64 {
	if len(c.index) == 0 {
		return 0
	}
	var total uint64
	for _, idx := range c.index {
		total += c.arena[idx].accessCount
	}
	return float64(total) / float64(len(c.index))
}

func (c *ResultCache) hotColdLocked() (hot, cold int) {
	mean := c.meanAccessLocked()
	if mean == 0 {
		return 0, 0
	}
	for _, idx := range c.index {
		a := float64(c.arena[idx].accessCount)
		switch {
		case a >= mean*hotAccessFactor:
			hot++
		case a <= mean*coldAccessFactor:
			cold++
		}
	}
	return hot, cold
}

// autoOptimizeLocked extends TTLs of hot entries, shrinks TTLs of cold
// ones, then compacts small rarely-hit entries.
func (c *ResultCache) autoOptimizeLocked() {
	mean := c.meanAccessLocked()
	if mean > 0 {
		now := c.opts.Now().UnixNano()
		for _, idx := range c.index {
			e := &c.arena[idx]
			if e.ttl <= 0 {
				continue
			}
			a := float64(e.accessCount)
			switch {
			case a >= mean*hotAccessFactor:
				e.ttl = e.ttl * ttlExtendNumerator / 2
				e.expiresAt = e.lastAccess + e.ttl.Nanoseconds()
			case a <= mean*coldAccessFactor:
				e.ttl /= 2
				e.expiresAt = e.createdAt + e.ttl.Nanoseconds()
				if e.expiresAt < now {
					// Will be dropped by the next sweep.
					e.expiresAt = now
				}
			}
		}
	}

	// Compaction: drop small, rarely-accessed entries, bounded per run.
	budget := int(float64(len(c.index)) * compactFraction)
	if budget == 0 {
		return
	}
	dropped := 0
	for _, idx := range c.indexSnapshotLocked() {
		if dropped >= budget {
			break
		}
		e := &c.arena[idx]
		if e.used && e.size < compactMaxSize+entryOverhead && e.accessCount < compactMaxHits {
			c.removeLocked(idx)
			c.stats.Evictions++
			dropped++
		}
	}
	if dropped > 0 {
		c.opts.Logger.Debug("cache: compaction dropped entries", "dropped", dropped)
	}
}
