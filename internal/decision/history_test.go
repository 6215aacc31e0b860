package decision

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"reviewgate/internal/store"
)

func rec(i int) *Record {
	return &Record{
		ReviewID:           fmt.Sprintf("rev-%03d", i),
		ExecutionProofHash: fmt.Sprintf("proof-%03d", i),
	}
}

func TestLocalHistoryRingBound(t *testing.T) {
	ctx := context.Background()
	h := NewLocalHistory(5)
	for i := 0; i < 8; i++ {
		if err := h.Append(ctx, rec(i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if h.Len(ctx) != 5 {
		t.Fatalf("len = %d, want 5", h.Len(ctx))
	}
	if h.Find(ctx, "rev-002") != nil {
		t.Fatal("evicted record still findable")
	}
	if h.Find(ctx, "rev-003") == nil {
		t.Fatal("oldest retained record not findable")
	}
}

func TestLocalHistoryRecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	h := NewLocalHistory(10)
	for i := 0; i < 4; i++ {
		h.Append(ctx, rec(i))
	}
	got := h.Recent(ctx, 2)
	if len(got) != 2 || got[0].ReviewID != "rev-003" || got[1].ReviewID != "rev-002" {
		t.Fatalf("Recent(2) = %v", ids(got))
	}
	if len(h.Recent(ctx, 0)) != 4 {
		t.Fatal("Recent(0) must return everything")
	}
}

func TestLocalHistoryLeavesOldestFirst(t *testing.T) {
	ctx := context.Background()
	h := NewLocalHistory(10)
	for i := 0; i < 3; i++ {
		h.Append(ctx, rec(i))
	}
	leaves := h.Leaves(ctx)
	if len(leaves) != 3 || leaves[0].ReviewID != "rev-000" || leaves[2].ProofHash != "proof-002" {
		t.Fatalf("Leaves = %+v", leaves)
	}
}

func TestSharedHistoryRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	st := store.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), zap.NewNop())
	defer st.Close()

	ctx := context.Background()
	h := NewSharedHistory(st, zap.NewNop())
	for i := 0; i < 3; i++ {
		if err := h.Append(ctx, rec(i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if h.Len(ctx) != 3 {
		t.Fatalf("len = %d, want 3", h.Len(ctx))
	}
	got := h.Recent(ctx, 2)
	if len(got) != 2 || got[0].ReviewID != "rev-002" {
		t.Fatalf("Recent(2) = %v", ids(got))
	}
	if h.Find(ctx, "rev-001") == nil {
		t.Fatal("Find missed a shared record")
	}
	leaves := h.Leaves(ctx)
	if len(leaves) != 3 || leaves[0].ReviewID != "rev-000" {
		t.Fatalf("Leaves = %+v", leaves)
	}
}

func TestSharedHistoryFallsBackToMirror(t *testing.T) {
	mr := miniredis.RunT(t)
	st := store.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), zap.NewNop())
	defer st.Close()

	ctx := context.Background()
	h := NewSharedHistory(st, zap.NewNop())
	for i := 0; i < 3; i++ {
		h.Append(ctx, rec(i))
	}

	mr.Close()

	if h.Len(ctx) != 3 {
		t.Fatalf("mirror len = %d, want 3", h.Len(ctx))
	}
	if h.Find(ctx, "rev-000") == nil {
		t.Fatal("mirror lost a record during the outage")
	}
	recent := h.Recent(ctx, 10)
	if len(recent) != 3 || recent[0].ReviewID != "rev-002" {
		t.Fatalf("mirror Recent = %v", ids(recent))
	}
}

func ids(recs []*Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ReviewID
	}
	return out
}
