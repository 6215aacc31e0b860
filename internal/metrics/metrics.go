// Package metrics keeps the monotone counters and live gauges for the
// pipeline. Counter writes are atomic and lock-free; gauges are read live
// from the semaphores and the idempotency guard at snapshot time.
package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"reviewgate/internal/decision"
	"reviewgate/internal/faults"
	"reviewgate/internal/idempotency"
	"reviewgate/internal/semaphore"
)

// Shared-store modes reported on snapshots.
const (
	ModeSingleInstance = "single-instance"
	ModeDistributed    = "distributed"
	ModeDegraded       = "degraded"
)

// Metrics is the process-wide counter set.
type Metrics struct {
	start time.Time

	pathCounts map[string]*atomic.Int64

	webhooksReceived  atomic.Int64
	duplicateWebhooks atomic.Int64
	idempotentSkipped atomic.Int64
	loadShed          atomic.Int64
	llmInvocations    atomic.Int64
	llmFallbacks      atomic.Int64
	commentsPosted    atomic.Int64
	commentFailures   atomic.Int64
	faultsInjected    atomic.Int64
	decisionsEmitted  atomic.Int64

	processing prometheus.Histogram

	faultCtl *faults.Controller
	logger   *zap.Logger
}

// New returns a zeroed metrics set. The fault controller guards
// RecordDecision so chaos runs can exercise the metrics-loss path.
func New(fc *faults.Controller, logger *zap.Logger) *Metrics {
	if fc == nil {
		fc = faults.Disabled()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	paths := make(map[string]*atomic.Int64, len(decision.Paths))
	for _, p := range decision.Paths {
		paths[p] = new(atomic.Int64)
	}
	return &Metrics{
		start:      time.Now(),
		pathCounts: paths,
		processing: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reviewgate_processing_seconds",
			Help:    "Wall-clock duration of one webhook execution.",
			Buckets: prometheus.DefBuckets,
		}),
		faultCtl: fc,
		logger:   logger.Named("metrics"),
	}
}

// Webhook admission events.
func (m *Metrics) IncWebhooksReceived() { m.webhooksReceived.Add(1) }
func (m *Metrics) IncLoadShed()         { m.loadShed.Add(1) }

// IncDuplicates records one suppressed redelivery: the webhook was recognized
// as a duplicate AND its execution was skipped, so both counters move.
func (m *Metrics) IncDuplicates() {
	m.duplicateWebhooks.Add(1)
	m.idempotentSkipped.Add(1)
}

// Comment publication events.
func (m *Metrics) IncCommentsPosted()  { m.commentsPosted.Add(1) }
func (m *Metrics) IncCommentFailures() { m.commentFailures.Add(1) }

// RecordDecision folds one emitted decision into the counters. A metrics
// failure never propagates: the decision already exists, losing its counter
// update is an observability defect only.
func (m *Metrics) RecordDecision(ctx context.Context, rec *decision.Record) {
	if err := m.faultCtl.MaybeInject(ctx, faults.MetricsWriteFailure); err != nil {
		m.logger.Error("metrics write failed, decision not counted",
			zap.String("review_id", rec.ReviewID), zap.Error(err))
		return
	}

	m.decisionsEmitted.Add(1)
	if counter, ok := m.pathCounts[rec.DecisionPath]; ok {
		counter.Add(1)
	} else {
		m.logger.Warn("decision carries unknown path", zap.String("path", rec.DecisionPath))
	}
	if rec.AIInvoked {
		m.llmInvocations.Add(1)
	}
	if rec.FallbackUsed {
		m.llmFallbacks.Add(1)
	}
	m.faultsInjected.Add(int64(len(rec.FaultsInjected)))
	m.processing.Observe(float64(rec.ProcessingTimeMS) / 1000)
}

// Deps are the live sources gauges are read from.
type Deps struct {
	Pipeline     semaphore.Semaphore
	LLM          semaphore.Semaphore
	Guard        idempotency.Guard
	StoreEnabled bool
	StoreHealthy bool
}

// Mode derives the instance mode from the shared-store state.
func (d Deps) Mode() string {
	switch {
	case !d.StoreEnabled:
		return ModeSingleInstance
	case d.StoreHealthy:
		return ModeDistributed
	default:
		return ModeDegraded
	}
}

// View is the JSON shape served at /metrics.
type View struct {
	UptimeSeconds float64          `json:"uptime_seconds"`
	SharedStore   StoreView        `json:"shared_store"`
	Counters      map[string]int64 `json:"counters"`
	Paths         map[string]int64 `json:"decision_paths"`
	LLM           LLMView          `json:"llm"`
	Concurrency   ConcurrencyView  `json:"concurrency"`
	Idempotency   IdempotencyView  `json:"idempotency"`
}

type StoreView struct {
	Enabled bool   `json:"enabled"`
	Healthy bool   `json:"healthy"`
	Mode    string `json:"mode"`
}

type LLMView struct {
	Invocations  int64   `json:"invocations"`
	Fallbacks    int64   `json:"fallbacks"`
	FallbackRate float64 `json:"fallback_rate"`
}

type SemaphoreView struct {
	InFlight  int `json:"in_flight"`
	Peak      int `json:"peak"`
	Available int `json:"available"`
	Max       int `json:"max"`
	Waiting   int `json:"waiting"`
}

type ConcurrencyView struct {
	Pipeline SemaphoreView `json:"pipeline"`
	LLM      SemaphoreView `json:"llm"`
}

type IdempotencyView struct {
	Size       int    `json:"size"`
	Max        int    `json:"max"`
	TTLSeconds int    `json:"ttl_seconds"`
	Backend    string `json:"backend"`
}

// Snapshot assembles the JSON view from the counters and live gauges.
func (m *Metrics) Snapshot(deps Deps) View {
	invocations := m.llmInvocations.Load()
	fallbacks := m.llmFallbacks.Load()
	rate := 0.0
	if invocations+fallbacks > 0 {
		// A capacity fallback never invoked the model, so the denominator
		// is attempts, not invocations.
		rate = float64(fallbacks) / float64(invocations+fallbacks)
	}

	paths := make(map[string]int64, len(m.pathCounts))
	for p, c := range m.pathCounts {
		paths[p] = c.Load()
	}

	return View{
		UptimeSeconds: time.Since(m.start).Seconds(),
		SharedStore: StoreView{
			Enabled: deps.StoreEnabled,
			Healthy: deps.StoreHealthy,
			Mode:    deps.Mode(),
		},
		Counters: map[string]int64{
			"webhooks_received":  m.webhooksReceived.Load(),
			"duplicate_webhooks": m.duplicateWebhooks.Load(),
			"idempotent_skipped": m.idempotentSkipped.Load(),
			"load_shed":          m.loadShed.Load(),
			"llm_invocations":    invocations,
			"llm_fallbacks":      fallbacks,
			"comments_posted":    m.commentsPosted.Load(),
			"comment_failures":   m.commentFailures.Load(),
			"faults_injected":    m.faultsInjected.Load(),
			"decisions_emitted":  m.decisionsEmitted.Load(),
		},
		Paths: paths,
		LLM: LLMView{
			Invocations:  invocations,
			Fallbacks:    fallbacks,
			FallbackRate: rate,
		},
		Concurrency: ConcurrencyView{
			Pipeline: semaphoreView(deps.Pipeline),
			LLM:      semaphoreView(deps.LLM),
		},
		Idempotency: IdempotencyView{
			Size:       deps.Guard.Size(),
			Max:        deps.Guard.MaxEntries(),
			TTLSeconds: deps.Guard.TTLSeconds(),
			Backend:    deps.Guard.Backend(),
		},
	}
}

func semaphoreView(s semaphore.Semaphore) SemaphoreView {
	if s == nil {
		return SemaphoreView{}
	}
	return SemaphoreView{
		InFlight:  s.InFlight(),
		Peak:      s.Peak(),
		Available: s.Available(),
		Max:       s.Max(),
		Waiting:   0,
	}
}
