package semaphore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"reviewgate/internal/faults"
	"reviewgate/internal/store"
)

func TestLocalTryAcquireBounds(t *testing.T) {
	s := NewLocal(2, nil, zap.NewNop())
	ctx := context.Background()

	if !s.TryAcquire(ctx) || !s.TryAcquire(ctx) {
		t.Fatal("first two acquires must succeed")
	}
	if s.TryAcquire(ctx) {
		t.Fatal("third acquire must be rejected")
	}
	if s.InFlight() != 2 || s.Available() != 0 || s.Peak() != 2 {
		t.Fatalf("counts: in_flight=%d available=%d peak=%d", s.InFlight(), s.Available(), s.Peak())
	}

	s.Release(ctx)
	if !s.TryAcquire(ctx) {
		t.Fatal("acquire after release must succeed")
	}
}

func TestLocalMonotoneLaw(t *testing.T) {
	s := NewLocal(5, nil, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.TryAcquire(ctx)
	}
	s.Release(ctx)
	if got := s.InFlight() + s.Available(); got != s.Max() {
		t.Fatalf("in_flight + available = %d, want max %d", got, s.Max())
	}
	if s.InFlight() < 0 {
		t.Fatal("in_flight must not go negative")
	}
}

func TestLocalReleaseClampsAtZero(t *testing.T) {
	s := NewLocal(2, nil, zap.NewNop())
	ctx := context.Background()

	s.Release(ctx)
	s.Release(ctx)
	if s.InFlight() != 0 {
		t.Fatalf("in_flight = %d after releases on empty semaphore", s.InFlight())
	}
	if s.Available() != 2 {
		t.Fatalf("available = %d, want 2", s.Available())
	}
}

func TestLeakFaultSwallowsRelease(t *testing.T) {
	fc, err := faults.NewController(true, map[string]string{
		string(faults.SemaphoreLeakSimulation): "always",
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	s := NewLocal(2, fc, zap.NewNop())
	ctx := context.Background()

	s.TryAcquire(ctx)
	s.Release(ctx)
	if s.InFlight() != 1 {
		t.Fatalf("in_flight = %d, want 1 (release swallowed)", s.InFlight())
	}
}

func newSharedForTest(t *testing.T, max int) (*Shared, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.NewWithClient(rdb, zap.NewNop())
	t.Cleanup(func() { st.Close() })
	return NewShared(st, "reviewgate:sem:test", max, nil, zap.NewNop()), mr
}

func TestSharedAcquireRelease(t *testing.T) {
	s, _ := newSharedForTest(t, 2)
	ctx := context.Background()

	if !s.TryAcquire(ctx) || !s.TryAcquire(ctx) {
		t.Fatal("first two shared acquires must succeed")
	}
	if s.TryAcquire(ctx) {
		t.Fatal("third shared acquire must be rejected")
	}

	s.Release(ctx)
	if !s.TryAcquire(ctx) {
		t.Fatal("shared acquire after release must succeed")
	}
	if s.InFlight() != 2 {
		t.Fatalf("in_flight = %d, want 2", s.InFlight())
	}
}

func TestSharedFailsOpenToLocal(t *testing.T) {
	s, mr := newSharedForTest(t, 1)
	ctx := context.Background()
	mr.Close()

	if !s.TryAcquire(ctx) {
		t.Fatal("acquire with dead store must fail open to local permits")
	}
	if s.TryAcquire(ctx) {
		t.Fatal("local bound must still be enforced when failed open")
	}
}
