package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"reviewgate/internal/attest"
	"reviewgate/internal/decision"
	"reviewgate/internal/faults"
	"reviewgate/internal/fsm"
	"reviewgate/internal/invariants"
	"reviewgate/internal/postconditions"
)

// observe runs every invariant against a snapshot and accumulates violations
// on the execution. SafeCheck never fails, so a broken predicate costs a log
// line, not the execution.
func (p *Pipeline) observe(exec *execution, ictx *invariants.Context) {
	exec.violations = append(exec.violations, p.checker.SafeCheck(ictx)...)
}

// observeConcurrency snapshots the semaphores right after admission.
func (p *Pipeline) observeConcurrency(exec *execution) {
	p.observe(exec, &invariants.Context{
		PipelineInFlight:  invariants.Ptr(p.deps.PipelineSem.InFlight()),
		PipelineAvailable: invariants.Ptr(p.deps.PipelineSem.Available()),
		PipelineMax:       invariants.Ptr(p.deps.PipelineSem.Max()),
		LLMInFlight:       invariants.Ptr(p.deps.LLMSem.InFlight()),
		LLMAvailable:      invariants.Ptr(p.deps.LLMSem.Available()),
		LLMMax:            invariants.Ptr(p.deps.LLMSem.Max()),
	})
}

// observeGate snapshots a blocked gate before the silent or warning exit.
func (p *Pipeline) observeGate(exec *execution, m *fsm.Machine) {
	p.observe(exec, &invariants.Context{
		GateAllowed:   invariants.Ptr(exec.gate.Allowed),
		AIInvoked:     invariants.Ptr(false),
		CurrentState:  invariants.Ptr(m.Current()),
		VisitedStates: m.VisitedStates(),
	})
}

// observePath snapshots the decision-path consistency rules.
func (p *Pipeline) observePath(exec *execution, commentPosted bool) {
	p.observe(exec, &invariants.Context{
		DecisionPath:  invariants.Ptr(exec.path),
		CommentPosted: invariants.Ptr(commentPosted),
		AIInvoked:     invariants.Ptr(exec.meta.Invoked),
	})
}

// emit seals the execution into a decision record: terminal invariant sweep,
// postcondition evaluation, formal validity, contract identity, proof hash,
// ledger link, history append, metrics. History and metrics failures are
// logged and swallowed; attestation failures mark the record but never
// suppress it.
func (p *Pipeline) emit(ctx context.Context, reviewID string, start time.Time,
	m *fsm.Machine, exec *execution, recorder *faults.Recorder) *decision.Record {

	now := p.deps.Clock()
	finalState, _ := m.FinalState()
	mode := p.InstanceMode(ctx)

	var verdict *string
	var verdictStr string
	if exec.hasOutput {
		verdictStr = string(exec.output.Verdict)
		verdict = &verdictStr
	}
	var fallbackReason *decision.FallbackReason
	var fallbackTrigger string
	if exec.meta.FallbackReason != nil {
		fallbackTrigger = exec.meta.FallbackReason.Trigger
		fallbackReason = &decision.FallbackReason{
			Trigger: exec.meta.FallbackReason.Trigger,
			Details: exec.meta.FallbackReason.Details,
		}
	}

	// Terminal invariant sweep over the full snapshot.
	termCtx := &invariants.Context{
		DecisionPath:       invariants.Ptr(exec.path),
		CommentPosted:      invariants.Ptr(exec.commentOK),
		AIInvoked:          invariants.Ptr(exec.meta.Invoked),
		FallbackUsed:       invariants.Ptr(exec.meta.FallbackUsed),
		CurrentState:       invariants.Ptr(m.Current()),
		IsTerminal:         invariants.Ptr(m.IsTerminal()),
		VisitedStates:      m.VisitedStates(),
		SharedStoreEnabled: invariants.Ptr(p.deps.StoreEnabled),
		SharedStoreHealthy: invariants.Ptr(p.deps.StoreHealthy(ctx)),
		InstanceMode:       invariants.Ptr(mode),
	}
	if exec.meta.FallbackUsed {
		termCtx.FallbackReason = invariants.Ptr(fallbackTrigger)
	}
	if exec.hasOutput {
		termCtx.Verdict = &verdictStr
		termCtx.Risks = exec.output.Risks
		termCtx.RisksSet = true
	}
	p.observe(exec, termCtx)

	invSummary := summarize(exec.violations)

	report := postconditions.Evaluate(&postconditions.TerminalContext{
		FinalState:       finalState,
		IsTerminal:       m.IsTerminal(),
		DecisionPath:     exec.path,
		CommentPosted:    exec.commentOK,
		Verdict:          verdictStr,
		AIInvoked:        exec.meta.Invoked,
		AIBlocked:        exec.aiBlocked,
		FallbackUsed:     exec.meta.FallbackUsed,
		FallbackReason:   fallbackTrigger,
		StateTransitions: m.History(),
		VisitedStates:    m.VisitedStates(),
		RiskHigh:         exec.bundle.HighCount,
		RiskMedium:       exec.bundle.MediumCount,
		RiskLow:          exec.bundle.LowCount,
	})

	formallyValid := invSummary.Error == 0 && invSummary.Fatal == 0
	for _, v := range report.Violations {
		if v.Severity == invariants.SeverityError || v.Severity == invariants.SeverityFatal {
			formallyValid = false
		}
	}

	rec := &decision.Record{
		ReviewID:     reviewID,
		Timestamp:    now.UTC().Format(time.RFC3339),
		Owner:        exec.event.Event.Owner,
		Repo:         exec.event.Event.Repo,
		PRNumber:     exec.event.Event.PRNumber,
		HeadCommitID: exec.event.Event.HeadCommitID,

		DecisionPath:   exec.path,
		GateReason:     exec.gate.Reason,
		AIInvoked:      exec.meta.Invoked,
		AIBlocked:      exec.aiBlocked,
		FallbackUsed:   exec.meta.FallbackUsed,
		FallbackReason: fallbackReason,
		Precheck: decision.PrecheckSummary{
			High:               exec.bundle.HighCount,
			Medium:             exec.bundle.MediumCount,
			Low:                exec.bundle.LowCount,
			CriticalCategories: exec.bundle.CriticalCategories,
		},
		Verdict:       verdict,
		CommentPosted: exec.commentOK,

		ProcessingTimeMS: now.Sub(start).Milliseconds(),
		InstanceMode:     mode,
		FaultsInjected:   recorder.Codes(),

		Invariants:       invSummary,
		StateTransitions: decision.TransitionsFromMachine(m.History()),
		FinalState:       string(finalState),
		Postconditions: decision.PostconditionSummary{
			TotalChecked:   report.TotalChecked,
			Passed:         report.Passed,
			ViolationCount: len(report.Violations),
			ViolationIDs:   report.ViolationIDs(),
			Violations:     postconditionIssues(report),
		},
		FormallyValid: formallyValid,

		ContractVersion: p.deps.Contract.Version,
		ContractHash:    p.deps.Contract.ContractHash,
	}

	p.seal(rec)
	p.persist(ctx, rec)
	p.deps.Metrics.RecordDecision(ctx, rec)

	p.logger.Info("decision emitted",
		zap.String("review_id", rec.ReviewID),
		zap.String("path", rec.DecisionPath),
		zap.String("final_state", rec.FinalState),
		zap.Bool("formally_valid", rec.FormallyValid),
		zap.Int64("processing_ms", rec.ProcessingTimeMS))
	return rec
}

// seal computes the proof hash and chains the record into the ledger. A
// failure marks the record and leaves the hashes empty.
func (p *Pipeline) seal(rec *decision.Record) {
	proof, err := attest.ProofHash(rec)
	if err != nil {
		rec.AttestationError = err.Error()
		p.logger.Error("proof hash failed", zap.String("review_id", rec.ReviewID), zap.Error(err))
		return
	}
	rec.ExecutionProofHash = proof

	ts, parseErr := time.Parse(time.RFC3339, rec.Timestamp)
	if parseErr != nil {
		ts = time.Now()
	}
	entry, err := p.deps.Ledger.Append(proof, rec.ReviewID, ts)
	if err != nil {
		rec.AttestationError = err.Error()
		p.logger.Error("ledger append failed", zap.String("review_id", rec.ReviewID), zap.Error(err))
		return
	}
	rec.LedgerHash = entry.LedgerHash
	rec.PreviousLedgerHash = entry.PreviousLedgerHash
}

// persist appends the record to history, best-effort, behind the
// DECISION_WRITE_FAILURE fault.
func (p *Pipeline) persist(ctx context.Context, rec *decision.Record) {
	err := p.deps.Faults.MaybeInject(ctx, faults.DecisionWriteFailure)
	if err == nil {
		err = p.deps.History.Append(ctx, rec)
	}
	if err != nil {
		p.logger.Error("decision not persisted",
			zap.String("review_id", rec.ReviewID), zap.Error(err))
	}
}

// summarize folds raw violations into the record's invariant summary,
// deduplicating by ID.
func summarize(violations []invariants.Violation) decision.InvariantSummary {
	sum := decision.InvariantSummary{ViolationIDs: []string{}}
	seen := map[string]bool{}
	for _, v := range violations {
		id := string(v.ID)
		if seen[id] {
			continue
		}
		seen[id] = true
		sum.Total++
		switch v.Severity {
		case invariants.SeverityWarn:
			sum.Warn++
		case invariants.SeverityError:
			sum.Error++
		case invariants.SeverityFatal:
			sum.Fatal++
		}
		sum.ViolationIDs = append(sum.ViolationIDs, id)
	}
	return sum
}

func postconditionIssues(r postconditions.Report) []decision.PostconditionIssue {
	if len(r.Violations) == 0 {
		return nil
	}
	out := make([]decision.PostconditionIssue, len(r.Violations))
	for i, v := range r.Violations {
		out[i] = decision.PostconditionIssue{
			ID:       string(v.ID),
			Severity: string(v.Severity),
			Message:  v.Description,
		}
	}
	return out
}
