package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewWithClient(rdb, zap.NewNop())
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestSetIfAbsent(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	ok, err := c.SetIfAbsent(ctx, "k", "v1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetIfAbsent: ok=%v err=%v", ok, err)
	}
	ok, err = c.SetIfAbsent(ctx, "k", "v2", time.Minute)
	if err != nil {
		t.Fatalf("second SetIfAbsent: %v", err)
	}
	if ok {
		t.Fatal("second SetIfAbsent should not overwrite")
	}
	v, err := c.Get(ctx, "k")
	if err != nil || v != "v1" {
		t.Fatalf("Get = %q, %v", v, err)
	}
}

func TestGetAbsentKey(t *testing.T) {
	c, _ := newTestClient(t)
	v, err := c.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get absent key: %v", err)
	}
	if v != "" {
		t.Fatalf("Get absent key = %q, want empty", v)
	}
}

func TestAcquireReleasePermit(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	const key = "permits"

	for i := 0; i < 3; i++ {
		ok, err := c.AcquirePermit(ctx, key, 3, 5*time.Minute)
		if err != nil || !ok {
			t.Fatalf("acquire %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, err := c.AcquirePermit(ctx, key, 3, 5*time.Minute)
	if err != nil {
		t.Fatalf("acquire over max: %v", err)
	}
	if ok {
		t.Fatal("acquire should be rejected at max")
	}

	n, err := c.ReleasePermit(ctx, key, 5*time.Minute)
	if err != nil || n != 2 {
		t.Fatalf("release: n=%d err=%v", n, err)
	}
	ok, err = c.AcquirePermit(ctx, key, 3, 5*time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestReleasePermitClampsAtZero(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	n, err := c.ReleasePermit(ctx, "empty", 5*time.Minute)
	if err != nil {
		t.Fatalf("release on empty key: %v", err)
	}
	if n != 0 {
		t.Fatalf("release on empty key = %d, want 0", n)
	}
	count, err := c.PermitCount(ctx, "empty")
	if err != nil || count != 0 {
		t.Fatalf("PermitCount = %d, %v", count, err)
	}
}

func TestListPushBound(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c", "d"} {
		if err := c.ListPush(ctx, "ring", v, 3); err != nil {
			t.Fatalf("ListPush %q: %v", v, err)
		}
	}
	n, err := c.ListLen(ctx, "ring")
	if err != nil || n != 3 {
		t.Fatalf("ListLen = %d, %v", n, err)
	}
	items, err := c.ListRange(ctx, "ring", 0, -1)
	if err != nil {
		t.Fatalf("ListRange: %v", err)
	}
	want := []string{"d", "c", "b"}
	for i, w := range want {
		if items[i] != w {
			t.Fatalf("ListRange[%d] = %q, want %q", i, items[i], w)
		}
	}
}

func TestHealthyFlipsOnOutage(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	if !c.Healthy(ctx) {
		t.Fatal("store should start healthy")
	}

	mr.Close()
	if _, err := c.Get(ctx, "k"); err == nil {
		t.Fatal("expected error after store closed")
	}
	if c.Healthy(ctx) {
		t.Fatal("failed call should mark store unhealthy")
	}
}

func TestFaultHookInterposes(t *testing.T) {
	c, _ := newTestClient(t)
	injected := errors.New("injected")
	c.SetFaultHook(func(context.Context) error { return injected })

	if _, err := c.Get(context.Background(), "k"); !errors.Is(err, injected) {
		t.Fatalf("Get with fault hook = %v, want injected error", err)
	}
}
