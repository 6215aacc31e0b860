// Package pipeline orchestrates one webhook execution end to end: admission,
// diff extraction, filtering, pre-checks, risk gating, model review, comment
// publication, and the terminal accounting that seals the run into a decision
// record. Exactly one decision is emitted per admitted execution, including
// executions that panic.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"reviewgate/internal/attest"
	"reviewgate/internal/contract"
	"reviewgate/internal/decision"
	"reviewgate/internal/faults"
	"reviewgate/internal/fsm"
	"reviewgate/internal/hosting"
	"reviewgate/internal/idempotency"
	"reviewgate/internal/invariants"
	"reviewgate/internal/metrics"
	"reviewgate/internal/precheck"
	"reviewgate/internal/review"
	"reviewgate/internal/semaphore"
)

// Deps are the singletons an execution borrows. Everything is injected; the
// pipeline owns no construction of its own.
type Deps struct {
	Guard       idempotency.Guard
	PipelineSem semaphore.Semaphore
	LLMSem      semaphore.Semaphore
	Faults      *faults.Controller
	Contract    contract.Contract
	History     decision.History
	Ledger      *attest.Ledger
	Metrics     *metrics.Metrics
	Diff        hosting.DiffFetcher
	Comments    hosting.CommentPublisher
	Reviewer    *review.Generator

	StoreEnabled bool
	StoreHealthy func(context.Context) bool

	// Diff limits; zero means the hosting defaults.
	MaxFiles   int
	MaxChanges int

	Logger *zap.Logger
	Clock  func() time.Time
	NewID  func() string
}

// Pipeline is the orchestrator. Safe for concurrent Process calls; each call
// owns its own state machine and trace.
type Pipeline struct {
	deps    Deps
	checker *invariants.Checker
	logger  *zap.Logger
}

// New wires a pipeline, filling optional dependencies with safe defaults.
func New(deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Faults == nil {
		deps.Faults = faults.Disabled()
	}
	if deps.StoreHealthy == nil {
		deps.StoreHealthy = func(context.Context) bool { return false }
	}
	return &Pipeline{
		deps:    deps,
		checker: invariants.NewChecker(deps.Logger),
		logger:  deps.Logger.Named("pipeline"),
	}
}

// NewReviewID mints the identifier the webhook response carries.
func (p *Pipeline) NewReviewID() string { return p.deps.NewID() }

// InstanceMode reports how this instance coordinates with its peers.
func (p *Pipeline) InstanceMode(ctx context.Context) string {
	return metrics.Deps{
		StoreEnabled: p.deps.StoreEnabled,
		StoreHealthy: p.deps.StoreHealthy(ctx),
	}.Mode()
}

// Process runs one delivery to completion. Duplicates and load-shed refusals
// return nil without an execution; everything past admission emits exactly
// one decision record, which is returned.
func (p *Pipeline) Process(ctx context.Context, reviewID string, event hosting.WebhookEvent) *decision.Record {
	p.deps.Metrics.IncWebhooksReceived()

	key := idempotency.Key(event.DeliveryID, event.Event.Owner, event.Event.Repo,
		event.Event.PRNumber, event.Action, event.Event.HeadCommitID)
	if res := p.deps.Guard.CheckAndMark(ctx, key); res.Status == idempotency.StatusDuplicateRecent {
		p.deps.Metrics.IncDuplicates()
		p.logger.Info("duplicate delivery suppressed",
			zap.String("idempotency_key", key),
			zap.Time("first_seen_at", res.FirstSeenAt))
		return nil
	}

	if !p.deps.PipelineSem.TryAcquire(ctx) {
		p.deps.Metrics.IncLoadShed()
		p.logger.Warn("pipeline at capacity, delivery shed",
			zap.String("idempotency_key", key),
			zap.Int("in_flight", p.deps.PipelineSem.InFlight()))
		return nil
	}

	return p.run(ctx, reviewID, event)
}

// execution accumulates everything the terminal accounting needs.
type execution struct {
	event      hosting.WebhookEvent
	files      []hosting.DiffFile
	bundle     precheck.Bundle
	gate       precheck.GateDecision
	output     review.Output
	meta       review.Meta
	hasOutput  bool
	path       string
	aiBlocked  bool
	commentOK  bool
	violations []invariants.Violation
}

func (p *Pipeline) run(ctx context.Context, reviewID string, event hosting.WebhookEvent) (rec *decision.Record) {
	start := p.deps.Clock()
	recorder := faults.NewRecorder()
	ctx = faults.WithRecorder(ctx, recorder)

	machine := fsm.New(reviewID, p.logger)
	exec := &execution{event: event, path: decision.PathAbortFatal}

	defer p.deps.PipelineSem.Release(ctx)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("execution panicked",
				zap.String("review_id", reviewID), zap.Any("panic", r))
			machine.SafeTransition(fsm.StateAbortedFatal, fmt.Sprintf("panic: %v", r))
			exec.path = decision.PathAbortFatal
		}
		if !machine.IsTerminal() {
			machine.SafeTransition(fsm.StateAbortedFatal, "execution left without a terminal state")
			exec.path = decision.PathAbortFatal
		}
		rec = p.emit(ctx, reviewID, start, machine, exec, recorder)
	}()

	p.observeConcurrency(exec)
	p.walk(ctx, machine, exec)
	return rec
}

// walk advances the machine through the main flow. Every branch ends in a
// terminal state; the deferred emit in run covers anything that escapes.
func (p *Pipeline) walk(ctx context.Context, m *fsm.Machine, exec *execution) {
	ev := exec.event.Event
	m.SafeTransition(fsm.StateDiffExtractionPending, "webhook admitted")

	files, err := p.fetchDiff(ctx, ev)
	if err != nil {
		m.SafeTransition(fsm.StateDiffExtractionFailed, err.Error())
		m.SafeTransition(fsm.StateAbortedError, "diff unavailable")
		exec.path = decision.PathAbortError
		p.notifyFailure(ctx, ev, "the pull request diff could not be fetched")
		return
	}
	m.SafeTransition(fsm.StateDiffExtracted, fmt.Sprintf("%d files", len(files)))

	m.SafeTransition(fsm.StateFilteringPending, "")
	filtered := hosting.FilterBounded(files, p.deps.MaxFiles, p.deps.MaxChanges)
	if len(filtered.Files) == 0 {
		m.SafeTransition(fsm.StateFilteredOut, "no reviewable files")
		m.SafeTransition(fsm.StateCompletedSilent, "")
		exec.path = decision.PathSilentExitFiltered
		p.observePath(exec, false)
		return
	}
	exec.files = filtered.Files
	reason := fmt.Sprintf("%d reviewable files", len(filtered.Files))
	if filtered.Truncated {
		reason += " (truncated)"
	}
	m.SafeTransition(fsm.StateFiltered, reason)

	m.SafeTransition(fsm.StatePrecheckPending, "")
	exec.bundle = precheck.Analyze(exec.files)
	m.SafeTransition(fsm.StatePrechecked,
		fmt.Sprintf("high=%d medium=%d low=%d", exec.bundle.HighCount, exec.bundle.MediumCount, exec.bundle.LowCount))

	m.SafeTransition(fsm.StateAIGatingPending, "")
	exec.gate = precheck.Gate(exec.bundle)

	switch {
	case exec.gate.Allowed:
		m.SafeTransition(fsm.StateAIApproved, exec.gate.Reason)
		p.reviewWithModel(ctx, m, exec)
		p.publishReview(ctx, m, exec)

	case exec.gate.Reason == precheck.ReasonSafe:
		exec.aiBlocked = true
		m.SafeTransition(fsm.StateAIBlockedSafe, exec.gate.Reason)
		p.observeGate(exec, m)
		m.SafeTransition(fsm.StateCompletedSilent, "")
		exec.path = decision.PathSilentExitSafe
		p.observePath(exec, false)

	default:
		exec.aiBlocked = true
		m.SafeTransition(fsm.StateAIBlockedManual, exec.gate.Reason)
		p.observeGate(exec, m)
		m.SafeTransition(fsm.StateReviewReady, "warning comment prepared")
		exec.path = decision.PathManualReviewWarning
		body := review.RenderManualWarningComment(exec.bundle.HighCount, exec.bundle.CriticalCategories)
		p.postComment(ctx, m, exec, body)
		m.SafeTransition(fsm.StateCompletedWarning, "")
	}
}

// reviewWithModel runs the gated model call and walks the machine through the
// review states the generator's outcome implies.
func (p *Pipeline) reviewWithModel(ctx context.Context, m *fsm.Machine, exec *execution) {
	m.SafeTransition(fsm.StateAIReviewPending, "")
	p.observe(exec, &invariants.Context{
		AboutToInvokeLLM: invariants.Ptr(true),
		CurrentState:     invariants.Ptr(m.Current()),
		VisitedStates:    m.VisitedStates(),
		GateAllowed:      invariants.Ptr(exec.gate.Allowed),
	})

	out, meta := p.deps.Reviewer.Generate(ctx, exec.files, exec.bundle)
	exec.output, exec.meta, exec.hasOutput = out, meta, true

	if meta.Invoked {
		m.SafeTransition(fsm.StateAIInvoked, meta.Provider)
	}
	if !meta.FallbackUsed {
		m.SafeTransition(fsm.StateAIResponded, "")
		m.SafeTransition(fsm.StateAIValidated, string(out.Verdict))
		exec.path = decision.PathAIReview
		m.SafeTransition(fsm.StateReviewReady, "model review accepted")
		return
	}

	trigger := meta.FallbackReason.Trigger
	switch trigger {
	case review.TriggerValidationError, review.TriggerQualityRejection:
		// The model answered; the reply failed our gates.
		m.SafeTransition(fsm.StateAIResponded, "")
		exec.path = decision.PathAIFallbackQuality
	default:
		exec.path = decision.PathAIFallbackAPI
	}
	m.SafeTransition(fsm.StateFallbackPending, trigger)
	m.SafeTransition(fsm.StateFallbackGenerated, string(out.Verdict))
	m.SafeTransition(fsm.StateReviewReady, "fallback review prepared")
}

// publishReview posts the review comment and settles the terminal state.
func (p *Pipeline) publishReview(ctx context.Context, m *fsm.Machine, exec *execution) {
	body := review.RenderReviewComment(exec.output, exec.meta.FallbackUsed)
	p.postComment(ctx, m, exec, body)
	if exec.commentOK {
		m.SafeTransition(fsm.StateCompletedSuccess, "")
	} else {
		m.SafeTransition(fsm.StateCompletedWarning, "review produced but not delivered")
	}
}

// postComment walks COMMENT_PENDING → COMMENT_POSTED | COMMENT_FAILED. The
// PUBLISH_COMMENT_FAILURE fault fires here.
func (p *Pipeline) postComment(ctx context.Context, m *fsm.Machine, exec *execution, body string) {
	p.observe(exec, &invariants.Context{
		AboutToPostComment: invariants.Ptr(true),
		CurrentState:       invariants.Ptr(m.Current()),
		VisitedStates:      m.VisitedStates(),
	})
	m.SafeTransition(fsm.StateCommentPending, "")

	err := p.deps.Faults.MaybeInject(ctx, faults.PublishCommentFailure)
	if err == nil {
		err = p.deps.Comments.PublishComment(ctx, exec.event.Event, body)
	}
	if err != nil {
		p.deps.Metrics.IncCommentFailures()
		p.logger.Warn("comment publication failed",
			zap.String("repo", exec.event.Event.FullName()),
			zap.Int("pr", exec.event.Event.PRNumber),
			zap.Error(err))
		m.SafeTransition(fsm.StateCommentFailed, err.Error())
		return
	}
	exec.commentOK = true
	p.deps.Metrics.IncCommentsPosted()
	m.SafeTransition(fsm.StateCommentPosted, "")
}

// fetchDiff retrieves the diff, with the DIFF_EXTRACTION_FAIL fault ahead of
// the real call.
func (p *Pipeline) fetchDiff(ctx context.Context, ev hosting.EventContext) ([]hosting.DiffFile, error) {
	if err := p.deps.Faults.MaybeInject(ctx, faults.DiffExtractionFail); err != nil {
		return nil, err
	}
	return p.deps.Diff.FetchDiff(ctx, ev)
}

// notifyFailure posts a best-effort notice on the abort path. It is advisory
// and never recorded as the review comment.
func (p *Pipeline) notifyFailure(ctx context.Context, ev hosting.EventContext, reason string) {
	if err := p.deps.Comments.PublishComment(ctx, ev, review.RenderErrorComment(reason)); err != nil {
		p.logger.Debug("failure notice not delivered", zap.Error(err))
	}
}
