package decision

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"reviewgate/internal/store"
)

// Ring bounds. The local ring keeps the most recent 100 decisions; the shared
// ring keeps 500 so a restart can rehydrate observability endpoints.
const (
	LocalBound  = 100
	SharedBound = 500
)

// Leaf pairs a review with its proof hash, in chronological order.
type Leaf struct {
	ReviewID  string
	ProofHash string
}

// History is the append-only decision store. Writes and reads are
// best-effort: callers log failures and move on, decision persistence never
// blocks decision emission.
type History interface {
	Append(ctx context.Context, rec *Record) error
	Recent(ctx context.Context, n int) []*Record
	Find(ctx context.Context, reviewID string) *Record
	Len(ctx context.Context) int
	Leaves(ctx context.Context) []Leaf
}

// LocalHistory is the in-memory ring.
type LocalHistory struct {
	mu    sync.RWMutex
	ring  []*Record
	bound int
}

// NewLocalHistory returns a ring holding at most bound records.
func NewLocalHistory(bound int) *LocalHistory {
	if bound <= 0 {
		bound = LocalBound
	}
	return &LocalHistory{bound: bound}
}

// Append adds rec, dropping the oldest record once the bound is reached.
func (h *LocalHistory) Append(_ context.Context, rec *Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring = append(h.ring, rec)
	if len(h.ring) > h.bound {
		h.ring = h.ring[len(h.ring)-h.bound:]
	}
	return nil
}

// Recent returns up to n records, newest first.
func (h *LocalHistory) Recent(_ context.Context, n int) []*Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 || n > len(h.ring) {
		n = len(h.ring)
	}
	out := make([]*Record, 0, n)
	for i := len(h.ring) - 1; i >= len(h.ring)-n; i-- {
		out = append(out, h.ring[i])
	}
	return out
}

// Find returns the record for reviewID, or nil.
func (h *LocalHistory) Find(_ context.Context, reviewID string) *Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := len(h.ring) - 1; i >= 0; i-- {
		if h.ring[i].ReviewID == reviewID {
			return h.ring[i]
		}
	}
	return nil
}

// Len returns the number of retained records.
func (h *LocalHistory) Len(_ context.Context) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.ring)
}

// Leaves returns review/proof pairs oldest first.
func (h *LocalHistory) Leaves(_ context.Context) []Leaf {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Leaf, 0, len(h.ring))
	for _, rec := range h.ring {
		out = append(out, Leaf{ReviewID: rec.ReviewID, ProofHash: rec.ExecutionProofHash})
	}
	return out
}

// SharedHistory mirrors every append into a local ring and pushes it to the
// shared store. Reads prefer the shared list and degrade to the mirror when
// the store is unreachable, so observability survives a store outage.
type SharedHistory struct {
	store  *store.Client
	key    string
	mirror *LocalHistory
	logger *zap.Logger
}

// NewSharedHistory returns a history backed by a shared list.
func NewSharedHistory(st *store.Client, logger *zap.Logger) *SharedHistory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SharedHistory{
		store:  st,
		key:    "reviewgate:decisions",
		mirror: NewLocalHistory(SharedBound),
		logger: logger.Named("history"),
	}
}

// Append stores rec locally and pushes it to the shared ring.
func (h *SharedHistory) Append(ctx context.Context, rec *Record) error {
	_ = h.mirror.Append(ctx, rec)
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := h.store.ListPush(ctx, h.key, string(payload), SharedBound); err != nil {
		h.logger.Warn("shared history append failed, mirror retains the record",
			zap.String("review_id", rec.ReviewID), zap.Error(err))
		return err
	}
	return nil
}

// Recent returns up to n records newest first, falling back to the mirror.
func (h *SharedHistory) Recent(ctx context.Context, n int) []*Record {
	if n <= 0 {
		n = SharedBound
	}
	raw, err := h.store.ListRange(ctx, h.key, 0, int64(n-1))
	if err != nil {
		return h.mirror.Recent(ctx, n)
	}
	out := make([]*Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			h.logger.Warn("skipping malformed shared history entry", zap.Error(err))
			continue
		}
		out = append(out, &rec)
	}
	return out
}

// Find scans the shared ring for reviewID, falling back to the mirror.
func (h *SharedHistory) Find(ctx context.Context, reviewID string) *Record {
	raw, err := h.store.ListRange(ctx, h.key, 0, -1)
	if err != nil {
		return h.mirror.Find(ctx, reviewID)
	}
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		if rec.ReviewID == reviewID {
			return &rec
		}
	}
	return nil
}

// Len returns the shared ring length, falling back to the mirror.
func (h *SharedHistory) Len(ctx context.Context) int {
	n, err := h.store.ListLen(ctx, h.key)
	if err != nil {
		return h.mirror.Len(ctx)
	}
	return int(n)
}

// Leaves returns review/proof pairs oldest first, falling back to the mirror.
func (h *SharedHistory) Leaves(ctx context.Context) []Leaf {
	raw, err := h.store.ListRange(ctx, h.key, 0, -1)
	if err != nil {
		return h.mirror.Leaves(ctx)
	}
	out := make([]Leaf, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var rec Record
		if err := json.Unmarshal([]byte(raw[i]), &rec); err != nil {
			continue
		}
		out = append(out, Leaf{ReviewID: rec.ReviewID, ProofHash: rec.ExecutionProofHash})
	}
	return out
}
