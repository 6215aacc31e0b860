// Package store wraps the shared Redis store behind the small set of
// primitives the coordination layer needs: set-if-absent with TTL, the
// compare-and-increment permit scripts, and a bounded list for the decision
// ring. Every caller is expected to degrade gracefully when the store is
// unreachable; the client only reports health, it never retries beyond the
// configured limit.
package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrUnavailable is returned when the store client has no live connection.
var ErrUnavailable = errors.New("store: shared store unavailable")

// Command-level timeouts. Commands and dials are bounded so a store outage
// costs an execution at most a few seconds before it fails open.
const (
	DialTimeout    = 5 * time.Second
	CommandTimeout = 2 * time.Second
	MaxRetries     = 2

	healthProbeInterval = 10 * time.Second
)

// acquireScript implements compare-and-increment with a TTL heartbeat:
// the counter only grows while below max, and expires if the holder dies.
var acquireScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local max = tonumber(ARGV[1])
if current < max then
  redis.call('INCR', KEYS[1])
  redis.call('EXPIRE', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

// releaseScript decrements without going below zero and refreshes the TTL.
var releaseScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current > 0 then
  redis.call('DECR', KEYS[1])
  redis.call('EXPIRE', KEYS[1], ARGV[1])
  return current - 1
end
return 0
`)

// FaultHook lets the fault controller interpose SHARED_STORE_UNAVAILABLE on
// every store call. A nil hook is a no-op.
type FaultHook func(ctx context.Context) error

// Client is the shared-store handle. Safe for concurrent use.
type Client struct {
	rdb       *redis.Client
	logger    *zap.Logger
	hook      atomic.Pointer[FaultHook]
	mu        sync.Mutex
	healthy   bool
	lastProbe time.Time
}

// Dial parses url and returns a connected client. The connection itself is
// lazy; the first health probe discovers an unreachable store.
func Dial(url string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = DialTimeout
	opts.ReadTimeout = CommandTimeout
	opts.WriteTimeout = CommandTimeout
	opts.MaxRetries = MaxRetries
	return &Client{
		rdb:     redis.NewClient(opts),
		logger:  logger.Named("store"),
		healthy: true,
	}, nil
}

// NewWithClient wraps an existing redis client (tests use miniredis here).
func NewWithClient(rdb *redis.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{rdb: rdb, logger: logger.Named("store"), healthy: true}
}

// SetFaultHook installs the injection hook called before every command.
func (c *Client) SetFaultHook(hook FaultHook) {
	c.hook.Store(&hook)
}

func (c *Client) preCall(ctx context.Context) error {
	if h := c.hook.Load(); h != nil && *h != nil {
		if err := (*h)(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Healthy reports whether the store answered a recent ping. The result is
// cached briefly so metrics reads do not hammer the store.
func (c *Client) Healthy(ctx context.Context) bool {
	c.mu.Lock()
	if time.Since(c.lastProbe) < healthProbeInterval {
		h := c.healthy
		c.mu.Unlock()
		return h
	}
	c.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, CommandTimeout)
	defer cancel()
	err := c.rdb.Ping(probeCtx).Err()

	c.mu.Lock()
	c.healthy = err == nil
	c.lastProbe = time.Now()
	h := c.healthy
	c.mu.Unlock()
	return h
}

// MarkUnhealthy records a failed call so the next Healthy read reflects it
// without waiting for the probe interval.
func (c *Client) MarkUnhealthy() {
	c.mu.Lock()
	c.healthy = false
	c.lastProbe = time.Now()
	c.mu.Unlock()
}

func (c *Client) observe(err error) error {
	if err != nil && !errors.Is(err, redis.Nil) {
		c.MarkUnhealthy()
	}
	return err
}

// SetIfAbsent performs SET key value NX EX ttl. Returns true when the key was
// newly set.
func (c *Client) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := c.preCall(ctx); err != nil {
		return false, err
	}
	ok, err := c.rdb.SetNX(ctx, key, value, ttl).Result()
	return ok, c.observe(err)
}

// Get returns the value at key, or "" with no error when absent.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if err := c.preCall(ctx); err != nil {
		return "", err
	}
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, c.observe(err)
}

// TTL returns the remaining TTL for key.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := c.preCall(ctx); err != nil {
		return 0, err
	}
	d, err := c.rdb.TTL(ctx, key).Result()
	return d, c.observe(err)
}

// AcquirePermit runs the compare-and-increment script. Returns true when a
// permit was granted.
func (c *Client) AcquirePermit(ctx context.Context, key string, max int, ttl time.Duration) (bool, error) {
	if err := c.preCall(ctx); err != nil {
		return false, err
	}
	n, err := acquireScript.Run(ctx, c.rdb, []string{key}, max, int(ttl.Seconds())).Int()
	if err != nil {
		return false, c.observe(err)
	}
	return n == 1, nil
}

// ReleasePermit runs the clamped decrement script and returns the new count.
func (c *Client) ReleasePermit(ctx context.Context, key string, ttl time.Duration) (int, error) {
	if err := c.preCall(ctx); err != nil {
		return 0, err
	}
	n, err := releaseScript.Run(ctx, c.rdb, []string{key}, int(ttl.Seconds())).Int()
	return n, c.observe(err)
}

// PermitCount reads the raw permit counter.
func (c *Client) PermitCount(ctx context.Context, key string) (int, error) {
	if err := c.preCall(ctx); err != nil {
		return 0, err
	}
	n, err := c.rdb.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, c.observe(err)
}

// ListPush prepends value and trims the list to bound entries.
func (c *Client) ListPush(ctx context.Context, key, value string, bound int) error {
	if err := c.preCall(ctx); err != nil {
		return err
	}
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, key, value)
	pipe.LTrim(ctx, key, 0, int64(bound-1))
	_, err := pipe.Exec(ctx)
	return c.observe(err)
}

// ListRange returns list entries [start, stop], newest first.
func (c *Client) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if err := c.preCall(ctx); err != nil {
		return nil, err
	}
	out, err := c.rdb.LRange(ctx, key, start, stop).Result()
	return out, c.observe(err)
}

// ListLen returns the list length.
func (c *Client) ListLen(ctx context.Context, key string) (int64, error) {
	if err := c.preCall(ctx); err != nil {
		return 0, err
	}
	n, err := c.rdb.LLen(ctx, key).Result()
	return n, c.observe(err)
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
