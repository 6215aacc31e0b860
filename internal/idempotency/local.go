// Package idempotency deduplicates retry-equivalent webhook deliveries.
// A key identifies one logical event; the first caller to mark it wins,
// later callers within the TTL see duplicate_recent and skip the pipeline.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// Status of a CheckAndMark call.
const (
	StatusNew             = "new"
	StatusDuplicateRecent = "duplicate_recent"
)

// Guard bounds. The local map keeps at most MaxEntries keys for TTL each;
// when full the oldest key is evicted regardless of remaining TTL.
const (
	DefaultTTL        = 3600 * time.Second
	DefaultMaxEntries = 1000
)

// Result of a CheckAndMark call. FirstSeenAt is zero for new keys and
// approximate on the shared backend.
type Result struct {
	Status      string
	FirstSeenAt time.Time
}

// Guard is the idempotency contract. Implementations never block the caller
// on a failing backend: a guard that cannot answer returns new (fail-open).
type Guard interface {
	CheckAndMark(ctx context.Context, key string) Result
	Size() int
	MaxEntries() int
	TTLSeconds() int
	Backend() string
}

type localEntry struct {
	firstSeen time.Time
	lastSeen  time.Time
	count     int
}

// LocalGuard is the in-memory backend: a key map plus an insertion-order
// queue for FIFO eviction. Expired keys are swept lazily on every call.
type LocalGuard struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	order   []string
	ttl     time.Duration
	max     int
	now     func() time.Time
}

// NewLocalGuard returns a guard with the given bounds; zero values pick the
// defaults.
func NewLocalGuard(ttl time.Duration, max int) *LocalGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &LocalGuard{
		entries: make(map[string]*localEntry),
		ttl:     ttl,
		max:     max,
		now:     time.Now,
	}
}

// CheckAndMark returns duplicate_recent iff key was marked within the TTL,
// marking it otherwise.
func (g *LocalGuard) CheckAndMark(_ context.Context, key string) Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.sweep(now)

	if e, ok := g.entries[key]; ok {
		e.lastSeen = now
		e.count++
		return Result{Status: StatusDuplicateRecent, FirstSeenAt: e.firstSeen}
	}

	if len(g.entries) >= g.max {
		g.evictOldest()
	}
	g.entries[key] = &localEntry{firstSeen: now, lastSeen: now, count: 1}
	g.order = append(g.order, key)
	return Result{Status: StatusNew}
}

// sweep drops entries older than the TTL. Caller holds the lock.
func (g *LocalGuard) sweep(now time.Time) {
	cutoff := now.Add(-g.ttl)
	kept := g.order[:0]
	for _, key := range g.order {
		e, ok := g.entries[key]
		if !ok {
			continue
		}
		if e.firstSeen.Before(cutoff) {
			delete(g.entries, key)
			continue
		}
		kept = append(kept, key)
	}
	g.order = kept
}

// evictOldest removes the first still-present key in insertion order.
// Caller holds the lock.
func (g *LocalGuard) evictOldest() {
	for len(g.order) > 0 {
		key := g.order[0]
		g.order = g.order[1:]
		if _, ok := g.entries[key]; ok {
			delete(g.entries, key)
			return
		}
	}
}

// Size returns the number of live entries.
func (g *LocalGuard) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// MaxEntries returns the eviction bound.
func (g *LocalGuard) MaxEntries() int { return g.max }

// TTLSeconds returns the TTL in whole seconds.
func (g *LocalGuard) TTLSeconds() int { return int(g.ttl.Seconds()) }

// Backend names the guard implementation for the metrics snapshot.
func (g *LocalGuard) Backend() string { return "local" }
