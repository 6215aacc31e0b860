package review

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"reviewgate/internal/faults"
	"reviewgate/internal/hosting"
	"reviewgate/internal/precheck"
	"reviewgate/internal/semaphore"
)

// Default call bounds. One retry, hard deadline; a slow model is treated
// like a failed one.
const (
	callTimeout = 30 * time.Second
	maxAttempts = 2
)

// Meta describes how the review was produced.
type Meta struct {
	Provider       string          `json:"provider"`
	Invoked        bool            `json:"invoked"`
	FallbackUsed   bool            `json:"fallback_used"`
	FallbackReason *FallbackReason `json:"fallback_reason,omitempty"`
	DurationMS     int64           `json:"duration_ms"`
}

// Generator runs the full model-review contract: permit, breaker-wrapped
// provider call, parse, validate, quality-gate, fallback. It always returns
// a usable Output.
type Generator struct {
	provider Provider
	permits  semaphore.Semaphore
	breaker  *gobreaker.CircuitBreaker
	faults   *faults.Controller
	logger   *zap.Logger
	now      func() time.Time
	timeout  time.Duration
	attempts int
}

// GeneratorOption adjusts a Generator at construction.
type GeneratorOption func(*Generator)

// WithCallBounds overrides the per-call deadline and the retry budget.
// maxRetries counts retries after the first attempt; negative means zero.
func WithCallBounds(timeout time.Duration, maxRetries int) GeneratorOption {
	return func(g *Generator) {
		if timeout > 0 {
			g.timeout = timeout
		}
		if maxRetries >= 0 {
			g.attempts = maxRetries + 1
		}
	}
}

// NewGenerator wires the generator. The breaker opens after consecutive
// provider failures; while open every call converts to an api_error fallback
// without touching the provider.
func NewGenerator(provider Provider, permits semaphore.Semaphore, fc *faults.Controller, logger *zap.Logger, opts ...GeneratorOption) *Generator {
	if fc == nil {
		fc = faults.Disabled()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "llm",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	g := &Generator{
		provider: provider,
		permits:  permits,
		breaker:  breaker,
		faults:   fc,
		logger:   logger.Named("review"),
		now:      time.Now,
		timeout:  callTimeout,
		attempts: maxAttempts,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate produces the review for the filtered diff. The model permit is
// scoped to this call alone and released on every exit.
func (g *Generator) Generate(ctx context.Context, files []hosting.DiffFile, bundle precheck.Bundle) (Output, Meta) {
	start := g.now()
	meta := Meta{Provider: g.provider.Name()}
	finish := func(out Output) (Output, Meta) {
		meta.DurationMS = g.now().Sub(start).Milliseconds()
		return out, meta
	}
	fallback := func(trigger, details string) (Output, Meta) {
		meta.FallbackUsed = true
		meta.FallbackReason = &FallbackReason{Trigger: trigger, Details: details}
		g.logger.Warn("falling back to deterministic review",
			zap.String("trigger", trigger), zap.String("details", details))
		return finish(Fallback(bundle))
	}

	if !g.permits.TryAcquire(ctx) {
		return fallback(TriggerCapacity, "model permit refused")
	}
	defer g.permits.Release(ctx)

	user := BuildUserPrompt(files, bundle)
	meta.Invoked = true

	raw, err := g.complete(ctx, systemPrompt, user)
	if err != nil {
		return fallback(TriggerAPIError, err.Error())
	}

	out, err := ParseReply(raw)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return fallback(TriggerValidationError, ve.Error())
		}
		return fallback(TriggerValidationError, err.Error())
	}
	if err := QualityCheck(out); err != nil {
		return fallback(TriggerQualityRejection, err.Error())
	}
	return finish(out)
}

// complete calls the provider through the breaker with the hard deadline and
// one retry. Fault codes LLM_TIMEOUT and LLM_MALFORMED_RESPONSE fire here so
// chaos runs exercise the same recovery paths as real failures.
func (g *Generator) complete(ctx context.Context, system, user string) (string, error) {
	if err := g.faults.MaybeInject(ctx, faults.LLMTimeout); err != nil {
		return "", err
	}
	if err := g.faults.MaybeInject(ctx, faults.LLMMalformedResponse); err != nil {
		// A malformed reply reaches the parser; parsing then rejects it.
		return "this reply is not the requested JSON object", nil
	}

	var lastErr error
	for attempt := 0; attempt < g.attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		reply, err := g.breaker.Execute(func() (any, error) {
			return g.provider.Complete(callCtx, system, user)
		})
		cancel()
		if err == nil {
			return reply.(string), nil
		}
		lastErr = err
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// The breaker will not admit a retry either.
			break
		}
		g.logger.Debug("model call failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return "", lastErr
}
