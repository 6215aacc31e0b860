package review

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"reviewgate/internal/faults"
	"reviewgate/internal/precheck"
	"reviewgate/internal/semaphore"
)

const validReply = `{
	"assessment": "The change rewires authentication token validation and introduces a new persistence path.",
	"risks": ["token validation skips expiry check on the refresh path"],
	"assumptions": ["the session store is reachable from the new handler"],
	"tradeoffs": [],
	"failure_modes": ["expired tokens accepted until the cache rolls over"],
	"recommendations": ["add an expiry assertion to the refresh path"],
	"verdict": "requires_changes"
}`

type fakeProvider struct {
	reply string
	err   error
	calls int
}

func (f *fakeProvider) Name() string { return "fake" }
func (f *fakeProvider) Complete(context.Context, string, string) (string, error) {
	f.calls++
	return f.reply, f.err
}

func testBundle(high int) precheck.Bundle {
	b := precheck.Bundle{
		Signals:   map[string]precheck.Signal{},
		HighCount: high,
	}
	if high > 0 {
		b.Signals[precheck.CategoryAuthentication] = precheck.Signal{
			Detected:   true,
			Confidence: precheck.ConfidenceHigh,
			Examples:   []string{"auth.ts"},
		}
		b.CriticalCategories = []string{precheck.CategoryAuthentication}
	}
	return b
}

func newTestGenerator(p Provider) *Generator {
	return NewGenerator(p, semaphore.NewLocal(3, nil, zap.NewNop()), faults.Disabled(), zap.NewNop())
}

func TestParseReplyValid(t *testing.T) {
	out, err := ParseReply(validReply)
	if err != nil {
		t.Fatalf("ParseReply: %v", err)
	}
	if out.Verdict != VerdictRequiresChanges {
		t.Fatalf("verdict = %s", out.Verdict)
	}
	if len(out.Risks) != 1 {
		t.Fatalf("risks = %v", out.Risks)
	}
}

func TestParseReplyFencedJSON(t *testing.T) {
	fenced := "Here is the review:\n```json\n" + validReply + "\n```\nDone."
	if _, err := ParseReply(fenced); err != nil {
		t.Fatalf("ParseReply fenced: %v", err)
	}
}

func TestParseReplyFailures(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{"no json", "I cannot review this.", "(root)"},
		{"missing field", `{"assessment":"long enough assessment text here","verdict":"safe"}`, "risks"},
		{"wrong type", strings.Replace(validReply, `["token validation skips expiry check on the refresh path"]`, `"oops"`, 1), "risks"},
		{"unknown verdict", strings.Replace(validReply, "requires_changes", "maybe_fine", 1), "verdict"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseReply(tt.raw)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Fatalf("field = %s, want %s", ve.Field, tt.field)
			}
		})
	}
}

func TestQualityCheckRejections(t *testing.T) {
	base, _ := ParseReply(validReply)
	tests := []struct {
		name   string
		mutate func(*Output)
	}{
		{"boilerplate", func(o *Output) { o.Assessment = "Looks good to me overall, well structured." }},
		{"short assessment", func(o *Output) { o.Assessment = "fine change" }},
		{"empty lists", func(o *Output) {
			o.Risks, o.Assumptions, o.Tradeoffs, o.FailureModes, o.Recommendations = nil, nil, nil, nil, nil
		}},
		{"safe with risks", func(o *Output) { o.Verdict = VerdictSafe }},
		{"high risk without risks", func(o *Output) {
			o.Verdict = VerdictHighRisk
			o.Risks = nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := base
			tt.mutate(&out)
			if err := QualityCheck(out); err == nil {
				t.Fatal("expected quality rejection")
			}
		})
	}
	if err := QualityCheck(base); err != nil {
		t.Fatalf("valid output rejected: %v", err)
	}
}

func TestGenerateHappyPath(t *testing.T) {
	p := &fakeProvider{reply: validReply}
	g := newTestGenerator(p)

	out, meta := g.Generate(context.Background(), nil, testBundle(2))
	if meta.FallbackUsed {
		t.Fatalf("unexpected fallback: %+v", meta.FallbackReason)
	}
	if !meta.Invoked {
		t.Fatal("meta.Invoked must be true")
	}
	if out.Verdict != VerdictRequiresChanges {
		t.Fatalf("verdict = %s", out.Verdict)
	}
}

func TestGenerateQualityFallback(t *testing.T) {
	p := &fakeProvider{reply: `{"assessment":"looks good","risks":[],"assumptions":[],"tradeoffs":[],"failure_modes":[],"recommendations":[],"verdict":"safe"}`}
	g := newTestGenerator(p)

	out, meta := g.Generate(context.Background(), nil, testBundle(1))
	if !meta.FallbackUsed || meta.FallbackReason.Trigger != TriggerQualityRejection {
		t.Fatalf("meta = %+v, want quality_rejection fallback", meta)
	}
	if out.Verdict != VerdictRequiresChanges {
		t.Fatalf("fallback verdict = %s, want requires_changes for 1 high", out.Verdict)
	}
	if out.Recommendations[0] != "manual review required" {
		t.Fatalf("recommendations = %v", out.Recommendations)
	}
}

func TestGenerateAPIErrorFallbackRetriesOnce(t *testing.T) {
	p := &fakeProvider{err: errors.New("upstream 500")}
	g := newTestGenerator(p)

	_, meta := g.Generate(context.Background(), nil, testBundle(0))
	if !meta.FallbackUsed || meta.FallbackReason.Trigger != TriggerAPIError {
		t.Fatalf("meta = %+v, want api_error fallback", meta)
	}
	if p.calls != 2 {
		t.Fatalf("provider calls = %d, want 2 (one retry)", p.calls)
	}
}

func TestAnthropicProviderDefaults(t *testing.T) {
	p, err := NewAnthropicProvider("key", "", 0)
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}
	if p.model == "" || p.maxTokens != maxOutputTokens {
		t.Fatalf("defaults not applied: model=%q maxTokens=%d", p.model, p.maxTokens)
	}
	if _, err := NewAnthropicProvider("", "", 0); err == nil {
		t.Fatal("empty API key must be rejected")
	}
}

func TestCallBoundsLimitRetries(t *testing.T) {
	p := &fakeProvider{err: errors.New("upstream 500")}
	g := NewGenerator(p, semaphore.NewLocal(3, nil, zap.NewNop()), faults.Disabled(), zap.NewNop(),
		WithCallBounds(time.Second, 0))

	_, meta := g.Generate(context.Background(), nil, testBundle(0))
	if !meta.FallbackUsed || meta.FallbackReason.Trigger != TriggerAPIError {
		t.Fatalf("meta = %+v, want api_error fallback", meta)
	}
	if p.calls != 1 {
		t.Fatalf("provider calls = %d, want 1 (zero retries configured)", p.calls)
	}
}

func TestGenerateCapacityFallback(t *testing.T) {
	sem := semaphore.NewLocal(1, nil, zap.NewNop())
	sem.TryAcquire(context.Background())
	g := NewGenerator(&fakeProvider{reply: validReply}, sem, faults.Disabled(), zap.NewNop())

	_, meta := g.Generate(context.Background(), nil, testBundle(0))
	if !meta.FallbackUsed || meta.FallbackReason.Trigger != TriggerCapacity {
		t.Fatalf("meta = %+v, want capacity fallback", meta)
	}
	if meta.Invoked {
		t.Fatal("permit refusal must not count as an invocation")
	}
}

func TestGenerateReleasesPermit(t *testing.T) {
	sem := semaphore.NewLocal(1, nil, zap.NewNop())
	g := NewGenerator(&fakeProvider{reply: validReply}, sem, faults.Disabled(), zap.NewNop())

	g.Generate(context.Background(), nil, testBundle(0))
	if sem.InFlight() != 0 {
		t.Fatalf("permit leaked: in_flight = %d", sem.InFlight())
	}
}

func TestGenerateTimeoutFault(t *testing.T) {
	fc, err := faults.NewController(true, map[string]string{
		string(faults.LLMTimeout): "always",
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	p := &fakeProvider{reply: validReply}
	g := NewGenerator(p, semaphore.NewLocal(1, nil, zap.NewNop()), fc, zap.NewNop())

	_, meta := g.Generate(context.Background(), nil, testBundle(0))
	if !meta.FallbackUsed || meta.FallbackReason.Trigger != TriggerAPIError {
		t.Fatalf("meta = %+v, want api_error via injected timeout", meta)
	}
	if p.calls != 0 {
		t.Fatal("injected timeout must not reach the provider")
	}
}

func TestGenerateMalformedFault(t *testing.T) {
	fc, err := faults.NewController(true, map[string]string{
		string(faults.LLMMalformedResponse): "always",
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	g := NewGenerator(&fakeProvider{reply: validReply}, semaphore.NewLocal(1, nil, zap.NewNop()), fc, zap.NewNop())

	_, meta := g.Generate(context.Background(), nil, testBundle(0))
	if !meta.FallbackUsed || meta.FallbackReason.Trigger != TriggerValidationError {
		t.Fatalf("meta = %+v, want validation_error via injected malformed reply", meta)
	}
}

func TestFallbackVerdictThresholds(t *testing.T) {
	tests := []struct {
		high int
		want Verdict
	}{
		{0, VerdictSafeWithConditions},
		{1, VerdictRequiresChanges},
		{2, VerdictRequiresChanges},
		{3, VerdictHighRisk},
		{6, VerdictHighRisk},
	}
	for _, tt := range tests {
		out := Fallback(testBundle(tt.high))
		if out.Verdict != tt.want {
			t.Errorf("Fallback(high=%d).Verdict = %s, want %s", tt.high, out.Verdict, tt.want)
		}
		if err := QualityCheck(out); err != nil {
			t.Errorf("fallback output fails its own quality gate: %v", err)
		}
	}
}
