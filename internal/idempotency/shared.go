package idempotency

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"reviewgate/internal/store"
)

const sharedKeyPrefix = "reviewgate:idem:"

// SharedGuard marks keys in the shared store via atomic set-if-absent, so
// concurrent instances agree on which delivery was first. Store failures
// fail open: the event is treated as new, because processing a duplicate is
// recoverable and dropping a genuine event is not.
type SharedGuard struct {
	store  *store.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewSharedGuard returns a guard backed by the shared store.
func NewSharedGuard(st *store.Client, ttl time.Duration, logger *zap.Logger) *SharedGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SharedGuard{store: st, ttl: ttl, logger: logger.Named("idempotency")}
}

// CheckAndMark performs SET NX EX. FirstSeenAt for duplicates is derived from
// the remaining TTL and therefore approximate.
func (g *SharedGuard) CheckAndMark(ctx context.Context, key string) Result {
	redisKey := sharedKeyPrefix + key
	value := strconv.FormatInt(time.Now().Unix(), 10)

	ok, err := g.store.SetIfAbsent(ctx, redisKey, value, g.ttl)
	if err != nil {
		g.logger.Warn("shared idempotency mark failed, treating event as new",
			zap.String("key", key), zap.Error(err))
		return Result{Status: StatusNew}
	}
	if ok {
		return Result{Status: StatusNew}
	}

	firstSeen := time.Now()
	if remaining, err := g.store.TTL(ctx, redisKey); err == nil && remaining > 0 {
		firstSeen = time.Now().Add(remaining - g.ttl)
	}
	return Result{Status: StatusDuplicateRecent, FirstSeenAt: firstSeen}
}

// Size is not tracked on the shared backend.
func (g *SharedGuard) Size() int { return -1 }

// MaxEntries is unbounded on the shared backend; the TTL is the only bound.
func (g *SharedGuard) MaxEntries() int { return -1 }

// TTLSeconds returns the TTL in whole seconds.
func (g *SharedGuard) TTLSeconds() int { return int(g.ttl.Seconds()) }

// Backend names the guard implementation for the metrics snapshot.
func (g *SharedGuard) Backend() string { return "shared" }
