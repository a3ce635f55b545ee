// Package cache implements the memoized computation store backing the
// analytics engine: TTL expiry, frequency/recency scored eviction under
// memory and entry caps, and dependency-tag invalidation cascades.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// perEntryOverhead approximates the bookkeeping cost of an entry beyond
// its serialized payload.
const perEntryOverhead = 96

// Recorder receives cache access and eviction counts, letting the
// owner feed its telemetry without the store depending on it.
// Recorders are called outside the store's lock.
type Recorder interface {
	RecordCacheAccess(ctx context.Context, hit bool)
	RecordCacheEviction(ctx context.Context, count int64)
}

// Options configures a Store.
type Options struct {
	DefaultTTL     time.Duration
	MaxEntries     int
	MaxMemoryBytes int64
	SweepInterval  time.Duration
	Recorder       Recorder
}

// DefaultOptions returns the engine defaults: 5 minute TTL, 1000
// entries, 64 MB, one sweep per minute.
func DefaultOptions() Options {
	return Options{
		DefaultTTL:     5 * time.Minute,
		MaxEntries:     1000,
		MaxMemoryBytes: 64 << 20,
		SweepInterval:  time.Minute,
	}
}

// SetOptions carries per-entry overrides for Set.
type SetOptions struct {
	// TTL overrides the store default when positive.
	TTL time.Duration
	// DependencyTags are invalidation labels; a tag may end in '*'
	// to match any invalidated key under that prefix.
	DependencyTags []string
}

type entry struct {
	key            string
	value          any
	createdAt      time.Time
	ttl            time.Duration
	accessCount    int64
	lastAccessedAt time.Time
	sizeBytes      int64
	deps           []string
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.createdAt.Add(e.ttl))
}

// Store is an in-memory key/value memo store. A single Store instance
// is owned by one engine; entries are snapshots and never handed out
// as mutable references by the engine.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	opts    Options
	logger  *slog.Logger

	memoryBytes int64
	hits        int64
	misses      int64
	evictions   int64
	accessNanos int64
	accessOps   int64

	sweepDone chan struct{}
	sweepOnce sync.Once

	// now is swapped in tests to drive TTL expiry deterministically.
	now func() time.Time
}

// New creates a Store with the given options. Call Start to enable the
// background expiry sweep.
func New(opts Options, logger *slog.Logger) *Store {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultOptions().DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultOptions().MaxEntries
	}
	if opts.MaxMemoryBytes <= 0 {
		opts.MaxMemoryBytes = DefaultOptions().MaxMemoryBytes
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultOptions().SweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		entries:   make(map[string]*entry),
		opts:      opts,
		logger:    logger.With(slog.String("component", "cache")),
		sweepDone: make(chan struct{}),
		now:       time.Now,
	}
}

// Start launches the periodic expiry sweep. It is safe to use the
// store without calling Start; expired entries are still evicted
// lazily on read.
func (s *Store) Start() {
	go s.sweepLoop()
}

// Stop terminates the background sweep.
func (s *Store) Stop() {
	s.sweepOnce.Do(func() { close(s.sweepDone) })
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.sweepDone:
			return
		case <-ticker.C:
			removed := s.Sweep()
			if removed > 0 {
				s.logger.Debug("swept expired cache entries", slog.Int("removed", removed))
			}
		}
	}
}

// Sweep removes every TTL-expired entry and returns the count removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if e.expired(now) {
			s.removeLocked(key)
			removed++
		}
	}
	return removed
}

// Get returns the value stored under key. ok is false when the key is
// missing or its TTL has elapsed; expired entries are evicted on read.
func (s *Store) Get(key string) (any, bool) {
	start := time.Now()
	hit := false
	if s.opts.Recorder != nil {
		defer func() { s.opts.Recorder.RecordCacheAccess(context.Background(), hit) }()
	}

	s.mu.Lock()
	defer func() {
		s.accessNanos += time.Since(start).Nanoseconds()
		s.accessOps++
		s.mu.Unlock()
	}()

	e, ok := s.entries[key]
	if !ok {
		s.misses++
		return nil, false
	}
	now := s.now()
	if e.expired(now) {
		s.removeLocked(key)
		s.misses++
		return nil, false
	}
	e.accessCount++
	e.lastAccessedAt = now
	s.hits++
	hit = true
	return e.value, true
}

// GetAs returns the value under key asserted to type V. A present
// entry of the wrong type counts as a miss; each cache namespace is
// expected to hold exactly one value type.
func GetAs[V any](s *Store, key string) (V, bool) {
	var zero V
	v, ok := s.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(V)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Set inserts or overwrites the entry under key. When the insertion
// would exceed the entry-count or memory cap, victims are evicted
// first, lowest score first, until there is room.
func (s *Store) Set(key string, value any, opts SetOptions) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = s.opts.DefaultTTL
	}
	size := estimateSize(key, value)

	evicted := 0
	if s.opts.Recorder != nil {
		defer func() {
			if evicted > 0 {
				s.opts.Recorder.RecordCacheEviction(context.Background(), int64(evicted))
			}
		}()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[key]; ok {
		s.memoryBytes -= old.sizeBytes
		delete(s.entries, key)
	}

	evicted = s.evictForLocked(size)

	now := s.now()
	s.entries[key] = &entry{
		key:            key,
		value:          value,
		createdAt:      now,
		ttl:            ttl,
		lastAccessedAt: now,
		sizeBytes:      size,
		deps:           append([]string(nil), opts.DependencyTags...),
	}
	s.memoryBytes += size
}

// evictForLocked frees room for an incoming entry of the given size.
// Victims are chosen by ascending accessCount * ln(idleSeconds + 1):
// rarely accessed, long-idle entries go first, and hot entries survive
// even when stale-looking. Eviction stops as soon as both caps hold.
func (s *Store) evictForLocked(incoming int64) int {
	needCount := len(s.entries)+1 > s.opts.MaxEntries
	needBytes := s.memoryBytes+incoming > s.opts.MaxMemoryBytes
	if !needCount && !needBytes {
		return 0
	}

	now := s.now()
	candidates := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return evictionScore(candidates[i], now) < evictionScore(candidates[j], now)
	})

	evicted := 0
	for _, victim := range candidates {
		if len(s.entries)+1 <= s.opts.MaxEntries && s.memoryBytes+incoming <= s.opts.MaxMemoryBytes {
			break
		}
		s.removeLocked(victim.key)
		s.evictions++
		evicted++
	}
	return evicted
}

func evictionScore(e *entry, now time.Time) float64 {
	idle := now.Sub(e.lastAccessedAt).Seconds()
	if idle < 0 {
		idle = 0
	}
	return float64(e.accessCount) * math.Log(idle+1)
}

// Invalidate removes every entry whose key matches pattern (an exact
// key, or a prefix pattern ending in '*') and, transitively, every
// entry holding a dependency tag that matches an invalidated key.
// It returns the number of entries removed.
func (s *Store) Invalidate(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := []string{pattern}
	removed := 0

	for len(pending) > 0 {
		p := pending[0]
		pending = pending[1:]

		for key, e := range s.entries {
			if !tokensMatch(p, key) && !depsMatch(e.deps, p) {
				continue
			}
			s.removeLocked(key)
			removed++
			// Entries depending on this key cascade next round.
			pending = append(pending, key)
		}
	}

	if removed > 0 {
		s.logger.Debug("cache invalidated",
			slog.String("pattern", pattern),
			slog.Int("removed", removed))
	}
	return removed
}

func depsMatch(deps []string, pattern string) bool {
	for _, dep := range deps {
		if tokensMatch(pattern, dep) {
			return true
		}
	}
	return false
}

// tokensMatch reports whether two invalidation tokens refer to an
// overlapping key set. Either token may carry a trailing '*' wildcard.
func tokensMatch(a, b string) bool {
	aw := strings.HasSuffix(a, "*")
	bw := strings.HasSuffix(b, "*")
	ap := strings.TrimSuffix(a, "*")
	bp := strings.TrimSuffix(b, "*")
	switch {
	case aw && bw:
		return strings.HasPrefix(ap, bp) || strings.HasPrefix(bp, ap)
	case aw:
		return strings.HasPrefix(b, ap)
	case bw:
		return strings.HasPrefix(a, bp)
	default:
		return a == b
	}
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry)
	s.memoryBytes = 0
}

func (s *Store) removeLocked(key string) {
	if e, ok := s.entries[key]; ok {
		s.memoryBytes -= e.sizeBytes
		delete(s.entries, key)
	}
}

// Len returns the current entry count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// KeyStat describes one of the most-accessed keys.
type KeyStat struct {
	Key         string `json:"key"`
	AccessCount int64  `json:"access_count"`
}

// Stats is a diagnostics snapshot of the store.
type Stats struct {
	Entries           int           `json:"entries"`
	MemoryBytes       int64         `json:"memory_bytes"`
	Hits              int64         `json:"hits"`
	Misses            int64         `json:"misses"`
	HitRate           float64       `json:"hit_rate"`
	MissRate          float64       `json:"miss_rate"`
	Evictions         int64         `json:"evictions"`
	AvgAccessLatency  time.Duration `json:"avg_access_latency_ns"`
	TopAccessedKeys   []KeyStat     `json:"top_accessed_keys"`
}

// Stats returns a diagnostics snapshot including the topN most
// accessed keys. It is informational only and carries no correctness
// guarantees across concurrent mutation.
func (s *Store) Stats(topN int) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Entries:     len(s.entries),
		MemoryBytes: s.memoryBytes,
		Hits:        s.hits,
		Misses:      s.misses,
		Evictions:   s.evictions,
	}
	if total := s.hits + s.misses; total > 0 {
		st.HitRate = float64(s.hits) / float64(total)
		st.MissRate = float64(s.misses) / float64(total)
	}
	if s.accessOps > 0 {
		st.AvgAccessLatency = time.Duration(s.accessNanos / s.accessOps)
	}

	if topN > 0 {
		keys := make([]KeyStat, 0, len(s.entries))
		for _, e := range s.entries {
			keys = append(keys, KeyStat{Key: e.key, AccessCount: e.accessCount})
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].AccessCount != keys[j].AccessCount {
				return keys[i].AccessCount > keys[j].AccessCount
			}
			return keys[i].Key < keys[j].Key
		})
		if len(keys) > topN {
			keys = keys[:topN]
		}
		st.TopAccessedKeys = keys
	}
	return st
}

// HitRate returns the lifetime hit rate.
func (s *Store) HitRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.hits + s.misses
	if total == 0 {
		return 0
	}
	return float64(s.hits) / float64(total)
}

// estimateSize approximates the memory footprint of an entry from its
// JSON serialization. Unserializable payloads get a flat estimate.
func estimateSize(key string, value any) int64 {
	size := int64(len(key)) + perEntryOverhead
	if data, err := json.Marshal(value); err == nil {
		size += int64(len(data))
	} else {
		size += 512
	}
	return size
}
