// Package semaphore bounds concurrent work with try-acquire-only permits.
// There is no waiting queue: a saturated acquire is a load-shed, the external
// sender retries. Two instances exist at runtime, one bounding concurrent
// pipelines and one bounding concurrent model calls.
package semaphore

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"reviewgate/internal/faults"
	"reviewgate/internal/store"
)

// Defaults for the two runtime instances.
const (
	DefaultPipelinePermits = 10
	DefaultLLMPermits      = 3

	// Shared permits carry a heartbeat TTL so a crashed holder cannot leak
	// capacity forever.
	sharedPermitTTL = 5 * time.Minute
)

// Semaphore is the permit contract. TryAcquire never blocks.
type Semaphore interface {
	TryAcquire(ctx context.Context) bool
	Release(ctx context.Context)
	InFlight() int
	Available() int
	Peak() int
	Max() int
}

// Local is a mutex-guarded counter with peak tracking.
type Local struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	max      int
	faults   *faults.Controller
	logger   *zap.Logger
}

// NewLocal returns a local semaphore with max permits.
func NewLocal(max int, fc *faults.Controller, logger *zap.Logger) *Local {
	if max <= 0 {
		max = DefaultPipelinePermits
	}
	if fc == nil {
		fc = faults.Disabled()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{max: max, faults: fc, logger: logger.Named("semaphore")}
}

// TryAcquire takes a permit when one is available.
func (s *Local) TryAcquire(_ context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight >= s.max {
		return false
	}
	s.inFlight++
	if s.inFlight > s.peak {
		s.peak = s.inFlight
	}
	return true
}

// Release returns a permit, clamping at zero. SEMAPHORE_LEAK_SIMULATION
// swallows the release so chaos tests can observe the arithmetic invariants.
func (s *Local) Release(ctx context.Context) {
	if err := s.faults.MaybeInject(ctx, faults.SemaphoreLeakSimulation); err != nil {
		s.logger.Warn("release swallowed by injected leak")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight > 0 {
		s.inFlight--
	}
}

// InFlight returns the current permit holders.
func (s *Local) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Available returns max minus in-flight.
func (s *Local) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.max - s.inFlight
}

// Peak returns the high-water mark since startup.
func (s *Local) Peak() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

// Max returns the configured permit bound.
func (s *Local) Max() int { return s.max }

// Shared counts permits in the shared store via an atomic
// compare-and-increment script, so concurrent instances share one budget.
// When the store cannot answer, the semaphore fails open to a local counter:
// degraded coordination is preferred over a stalled pipeline.
type Shared struct {
	store  *store.Client
	key    string
	local  *Local
	logger *zap.Logger
}

// NewShared returns a store-backed semaphore named by key.
func NewShared(st *store.Client, key string, max int, fc *faults.Controller, logger *zap.Logger) *Shared {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Shared{
		store:  st,
		key:    key,
		local:  NewLocal(max, fc, logger),
		logger: logger.Named("semaphore"),
	}
}

// TryAcquire takes a shared permit, falling back to the local counter when
// the store fails. The local counter is always updated too so snapshots and
// invariant checks see a consistent view per instance.
func (s *Shared) TryAcquire(ctx context.Context) bool {
	ok, err := s.store.AcquirePermit(ctx, s.key, s.local.Max(), sharedPermitTTL)
	if err != nil {
		s.logger.Warn("shared acquire failed, using local permits",
			zap.String("key", s.key), zap.Error(err))
		return s.local.TryAcquire(ctx)
	}
	if !ok {
		return false
	}
	if !s.local.TryAcquire(ctx) {
		// The shared budget granted more than this instance's view allows;
		// give the shared permit back.
		if _, err := s.store.ReleasePermit(ctx, s.key, sharedPermitTTL); err != nil {
			s.logger.Warn("failed to return surplus shared permit", zap.Error(err))
		}
		return false
	}
	return true
}

// Release returns both the shared and the local permit.
func (s *Shared) Release(ctx context.Context) {
	if err := s.local.faults.MaybeInject(ctx, faults.SemaphoreLeakSimulation); err != nil {
		s.logger.Warn("release swallowed by injected leak", zap.String("key", s.key))
		return
	}
	if _, err := s.store.ReleasePermit(ctx, s.key, sharedPermitTTL); err != nil {
		s.logger.Warn("shared release failed", zap.String("key", s.key), zap.Error(err))
	}
	s.local.mu.Lock()
	if s.local.inFlight > 0 {
		s.local.inFlight--
	}
	s.local.mu.Unlock()
}

// InFlight returns this instance's permit holders.
func (s *Shared) InFlight() int { return s.local.InFlight() }

// Available returns this instance's view of remaining capacity.
func (s *Shared) Available() int { return s.local.Available() }

// Peak returns this instance's high-water mark.
func (s *Shared) Peak() int { return s.local.Peak() }

// Max returns the configured permit bound.
func (s *Shared) Max() int { return s.local.Max() }
