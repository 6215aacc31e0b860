package invariants

import (
	"fmt"

	"go.uber.org/zap"
)

// Checker evaluates invariants against context snapshots.
type Checker struct {
	defs   []Definition
	byID   map[ID]Definition
	logger *zap.Logger
}

// NewChecker returns a checker over the full registry.
func NewChecker(logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		defs:   Registry(),
		byID:   Definitions(),
		logger: logger.Named("invariants"),
	}
}

// Check evaluates the named invariants (all when ids is empty) and returns
// every violation. Predicate panics propagate; use SafeCheck on hot paths.
func (c *Checker) Check(ctx *Context, ids ...ID) []Violation {
	var out []Violation
	for _, d := range c.selected(ids) {
		if !d.Predicate(ctx) {
			out = append(out, violationOf(d))
		}
	}
	return out
}

// SafeCheck evaluates like Check but swallows predicate panics: a predicate
// that cannot be evaluated is logged and skipped, so an evaluation bug can
// never mask or invent a real violation.
func (c *Checker) SafeCheck(ctx *Context, ids ...ID) []Violation {
	var out []Violation
	for _, d := range c.selected(ids) {
		ok, evalErr := c.evalSafely(d, ctx)
		if evalErr != nil {
			c.logger.Debug("invariant predicate failed to evaluate",
				zap.String("id", string(d.ID)),
				zap.Error(evalErr))
			continue
		}
		if !ok {
			out = append(out, violationOf(d))
		}
	}
	return out
}

// Enforce returns an error when any fatal invariant is violated.
func (c *Checker) Enforce(ctx *Context, ids ...ID) error {
	for _, v := range c.SafeCheck(ctx, ids...) {
		if v.Severity == SeverityFatal {
			return fmt.Errorf("invariants: fatal violation %s: %s", v.ID, v.Description)
		}
	}
	return nil
}

func (c *Checker) selected(ids []ID) []Definition {
	if len(ids) == 0 {
		return c.defs
	}
	out := make([]Definition, 0, len(ids))
	for _, id := range ids {
		if d, ok := c.byID[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

func (c *Checker) evalSafely(d Definition, ctx *Context) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = true
			err = fmt.Errorf("predicate panic: %v", r)
		}
	}()
	return d.Predicate(ctx), nil
}

func violationOf(d Definition) Violation {
	return Violation{
		ID:          d.ID,
		Description: d.Description,
		Severity:    d.Severity,
		Message:     fmt.Sprintf("invariant %s violated", d.ID),
	}
}
