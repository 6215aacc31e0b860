// Package faults implements the named failure points used to drive chaos
// tests through the production code paths. Every sensitive call site asks the
// controller whether its fault code fires; an injected fault is handled
// exactly like the real failure it mirrors.
package faults

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// Code names an injectable failure point.
type Code string

const (
	DiffExtractionFail      Code = "DIFF_EXTRACTION_FAIL"
	LLMTimeout              Code = "LLM_TIMEOUT"
	LLMMalformedResponse    Code = "LLM_MALFORMED_RESPONSE"
	SharedStoreUnavailable  Code = "SHARED_STORE_UNAVAILABLE"
	SemaphoreLeakSimulation Code = "SEMAPHORE_LEAK_SIMULATION"
	DecisionWriteFailure    Code = "DECISION_WRITE_FAILURE"
	MetricsWriteFailure     Code = "METRICS_WRITE_FAILURE"
	PublishCommentFailure   Code = "PUBLISH_COMMENT_FAILURE"
)

// AllCodes lists every fault code.
var AllCodes = []Code{
	DiffExtractionFail,
	LLMTimeout,
	LLMMalformedResponse,
	SharedStoreUnavailable,
	SemaphoreLeakSimulation,
	DecisionWriteFailure,
	MetricsWriteFailure,
	PublishCommentFailure,
}

// ErrUnknownCode is returned when a trigger names an undeclared fault.
var ErrUnknownCode = errors.New("faults: unknown fault code")

// Trigger modes.
const (
	ModeAlways      = "always"
	ModeNever       = "never"
	ModeProbability = "probability"
)

// Trigger decides whether a fault fires.
type Trigger struct {
	Mode string
	P    float64
}

// ParseTrigger parses "always", "never", or a probability in [0,1].
func ParseTrigger(s string) (Trigger, error) {
	switch s {
	case ModeAlways:
		return Trigger{Mode: ModeAlways, P: 1}, nil
	case ModeNever, "":
		return Trigger{Mode: ModeNever}, nil
	}
	p, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Trigger{}, fmt.Errorf("faults: invalid trigger %q: %w", s, err)
	}
	if p < 0 || p > 1 {
		return Trigger{}, fmt.Errorf("faults: probability %v outside [0,1]", p)
	}
	return Trigger{Mode: ModeProbability, P: p}, nil
}

// FaultError marks an injected failure. Call sites treat it like the real
// error class; the orchestrator records the code on the decision.
type FaultError struct {
	Code Code
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("faults: injected %s", e.Code)
}

// InjectedCode extracts the fault code when err carries one.
func InjectedCode(err error) (Code, bool) {
	var fe *FaultError
	if errors.As(err, &fe) {
		return fe.Code, true
	}
	return "", false
}

// Controller owns the trigger plan. Disabled controllers never inject.
// Reload swaps the entire plan atomically, which the config watcher uses for
// hot reload.
type Controller struct {
	mu       sync.RWMutex
	enabled  bool
	plan     map[Code]Trigger
	logger   *zap.Logger
	injected map[Code]int64
	randFn   func() float64
}

// NewController builds a controller from per-code trigger strings.
func NewController(enabled bool, triggers map[string]string, logger *zap.Logger) (*Controller, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	plan, err := parsePlan(triggers)
	if err != nil {
		return nil, err
	}
	return &Controller{
		enabled:  enabled,
		plan:     plan,
		logger:   logger.Named("faults"),
		injected: make(map[Code]int64),
		randFn:   rand.Float64,
	}, nil
}

// Disabled returns a controller that never injects.
func Disabled() *Controller {
	c, _ := NewController(false, nil, zap.NewNop())
	return c
}

func parsePlan(triggers map[string]string) (map[Code]Trigger, error) {
	plan := make(map[Code]Trigger, len(triggers))
	known := make(map[Code]bool, len(AllCodes))
	for _, c := range AllCodes {
		known[c] = true
	}
	for name, raw := range triggers {
		code := Code(name)
		if !known[code] {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCode, name)
		}
		trigger, err := ParseTrigger(raw)
		if err != nil {
			return nil, err
		}
		plan[code] = trigger
	}
	return plan, nil
}

// Enabled reports whether injection is active at all.
func (c *Controller) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// MaybeInject fires the fault for code according to its trigger. When the
// context carries an execution recorder, the fired code is attributed to
// that execution.
func (c *Controller) MaybeInject(ctx context.Context, code Code) error {
	c.mu.RLock()
	if !c.enabled {
		c.mu.RUnlock()
		return nil
	}
	trigger, ok := c.plan[code]
	randFn := c.randFn
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	fire := false
	switch trigger.Mode {
	case ModeAlways:
		fire = true
	case ModeProbability:
		fire = randFn() < trigger.P
	}
	if !fire {
		return nil
	}

	c.mu.Lock()
	c.injected[code]++
	c.mu.Unlock()
	if rec := RecorderFrom(ctx); rec != nil {
		rec.record(code)
	}
	c.logger.Warn("fault injected", zap.String("code", string(code)))
	return &FaultError{Code: code}
}

// Reload replaces the trigger plan. Parse failures keep the old plan.
func (c *Controller) Reload(triggers map[string]string) error {
	plan, err := parsePlan(triggers)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.plan = plan
	c.mu.Unlock()
	c.logger.Info("fault plan reloaded", zap.Int("triggers", len(plan)))
	return nil
}

// InjectedCounts returns a copy of the per-code injection counters.
func (c *Controller) InjectedCounts() map[Code]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[Code]int64, len(c.injected))
	for k, v := range c.injected {
		out[k] = v
	}
	return out
}

// TotalInjected returns the number of faults fired since startup.
func (c *Controller) TotalInjected() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var total int64
	for _, v := range c.injected {
		total += v
	}
	return total
}
