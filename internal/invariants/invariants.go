// Package invariants defines the named runtime invariants checked at every
// key pipeline transition. Each invariant is a predicate over a Context
// snapshot; predicates treat absent fields as vacuously true so partial
// contexts can validate targeted subsets.
package invariants

import (
	"strings"

	"reviewgate/internal/fsm"
)

// Severity classifies a violation.
type Severity string

const (
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
	SeverityFatal Severity = "fatal"
)

// ID names an invariant.
type ID string

const (
	SemaphorePermitsNonNegative    ID = "SEMAPHORE_PERMITS_NON_NEGATIVE"
	SemaphoreInFlightMatchesMax    ID = "SEMAPHORE_IN_FLIGHT_MATCHES_ACQUIRED"
	SemaphoreBounded               ID = "SEMAPHORE_BOUNDED"
	GateDecisionRespected          ID = "GATE_DECISION_RESPECTED"
	FallbackHasReason              ID = "FALLBACK_HAS_REASON"
	VerdictRisksConsistent         ID = "VERDICT_RISKS_CONSISTENT"
	SilentExitNoComment            ID = "SILENT_EXIT_NO_COMMENT"
	DecisionPathValid              ID = "DECISION_PATH_VALID"
	AIInvokeRequiresApproval       ID = "AI_INVOKE_REQUIRES_APPROVAL"
	CommentRequiresReviewReady     ID = "COMMENT_REQUIRES_REVIEW_READY"
	TerminalStateAbsorbing         ID = "TERMINAL_STATE_ABSORBING"
	InstanceModeConsistent         ID = "INSTANCE_MODE_CONSISTENT"
	DecisionCommentConsistent      ID = "DECISION_COMMENT_CONSISTENT"
	MetricsLLMConsistent           ID = "METRICS_LLM_CONSISTENT"
)

// Context is the snapshot predicates evaluate against. Every field is
// optional; nil means "not part of this check".
type Context struct {
	PipelineInFlight  *int
	PipelineAvailable *int
	PipelineMax       *int
	LLMInFlight       *int
	LLMAvailable      *int
	LLMMax            *int

	GateAllowed    *bool
	AIInvoked      *bool
	FallbackUsed   *bool
	FallbackReason *string
	Verdict        *string
	Risks          []string
	RisksSet       bool

	DecisionPath  *string
	CommentPosted *bool

	MetricsLLMInvoked *bool

	SharedStoreEnabled *bool
	SharedStoreHealthy *bool
	InstanceMode       *string

	CurrentState  *fsm.State
	PreviousState *fsm.State
	IsTerminal    *bool

	AboutToInvokeLLM   *bool
	AboutToPostComment *bool
	VisitedStates      map[fsm.State]bool
}

// Ptr is a convenience for building sparse contexts.
func Ptr[T any](v T) *T { return &v }

// Definition binds an invariant to its predicate.
type Definition struct {
	ID          ID
	Description string
	Severity    Severity
	Predicate   func(*Context) bool
}

// Violation is a failed check.
type Violation struct {
	ID          ID       `json:"id"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Message     string   `json:"message,omitempty"`
}

// knownPaths mirrors the decision paths the orchestrator can emit.
var knownPaths = map[string]bool{
	"silent_exit_filtered":  true,
	"silent_exit_safe":      true,
	"manual_review_warning": true,
	"ai_review":             true,
	"ai_fallback_api":       true,
	"ai_fallback_quality":   true,
	"abort_error":           true,
	"abort_fatal":           true,
}

// KnownPaths returns the valid decision path names.
func KnownPaths() []string {
	out := make([]string, 0, len(knownPaths))
	for _, p := range []string{
		"silent_exit_filtered", "silent_exit_safe", "manual_review_warning",
		"ai_review", "ai_fallback_api", "ai_fallback_quality",
		"abort_error", "abort_fatal",
	} {
		out = append(out, p)
	}
	return out
}

var registry = []Definition{
	{
		ID:          SemaphorePermitsNonNegative,
		Description: "semaphore in-flight and available counts never go negative",
		Severity:    SeverityFatal,
		Predicate: func(c *Context) bool {
			for _, v := range []*int{c.PipelineInFlight, c.PipelineAvailable, c.LLMInFlight, c.LLMAvailable} {
				if v != nil && *v < 0 {
					return false
				}
			}
			return true
		},
	},
	{
		ID:          SemaphoreInFlightMatchesMax,
		Description: "in-flight plus available equals the configured maximum",
		Severity:    SeverityError,
		Predicate: func(c *Context) bool {
			if c.PipelineInFlight != nil && c.PipelineAvailable != nil && c.PipelineMax != nil {
				if *c.PipelineInFlight+*c.PipelineAvailable != *c.PipelineMax {
					return false
				}
			}
			if c.LLMInFlight != nil && c.LLMAvailable != nil && c.LLMMax != nil {
				if *c.LLMInFlight+*c.LLMAvailable != *c.LLMMax {
					return false
				}
			}
			return true
		},
	},
	{
		ID:          SemaphoreBounded,
		Description: "in-flight count never exceeds the configured maximum",
		Severity:    SeverityError,
		Predicate: func(c *Context) bool {
			if c.PipelineInFlight != nil && c.PipelineMax != nil && *c.PipelineInFlight > *c.PipelineMax {
				return false
			}
			if c.LLMInFlight != nil && c.LLMMax != nil && *c.LLMInFlight > *c.LLMMax {
				return false
			}
			return true
		},
	},
	{
		ID:          GateDecisionRespected,
		Description: "a blocked gate is never followed by a model invocation",
		Severity:    SeverityFatal,
		Predicate: func(c *Context) bool {
			if c.GateAllowed == nil || c.AIInvoked == nil {
				return true
			}
			if !*c.GateAllowed && *c.AIInvoked {
				return false
			}
			return true
		},
	},
	{
		ID:          FallbackHasReason,
		Description: "a fallback review always carries its trigger",
		Severity:    SeverityError,
		Predicate: func(c *Context) bool {
			if c.FallbackUsed == nil || !*c.FallbackUsed {
				return true
			}
			return c.FallbackReason != nil && *c.FallbackReason != ""
		},
	},
	{
		ID:          VerdictRisksConsistent,
		Description: "safe verdicts carry no risks; high_risk verdicts carry at least one",
		Severity:    SeverityWarn,
		Predicate: func(c *Context) bool {
			if c.Verdict == nil || !c.RisksSet {
				return true
			}
			switch *c.Verdict {
			case "safe":
				return len(c.Risks) == 0
			case "high_risk":
				return len(c.Risks) > 0
			}
			return true
		},
	},
	{
		ID:          SilentExitNoComment,
		Description: "silent exits never post comments or invoke the model",
		Severity:    SeverityError,
		Predicate: func(c *Context) bool {
			if c.DecisionPath == nil || !strings.HasPrefix(*c.DecisionPath, "silent_exit") {
				return true
			}
			if c.CommentPosted != nil && *c.CommentPosted {
				return false
			}
			if c.AIInvoked != nil && *c.AIInvoked {
				return false
			}
			return true
		},
	},
	{
		ID:          DecisionPathValid,
		Description: "the decision path is one of the declared path names",
		Severity:    SeverityError,
		Predicate: func(c *Context) bool {
			if c.DecisionPath == nil {
				return true
			}
			return knownPaths[*c.DecisionPath]
		},
	},
	{
		ID:          AIInvokeRequiresApproval,
		Description: "model invocation requires gate approval state",
		Severity:    SeverityFatal,
		Predicate: func(c *Context) bool {
			if c.AboutToInvokeLLM == nil || !*c.AboutToInvokeLLM {
				return true
			}
			if c.VisitedStates != nil && !c.VisitedStates[fsm.StateAIApproved] {
				return false
			}
			if c.CurrentState != nil {
				s := *c.CurrentState
				if s != fsm.StateAIReviewPending && s != fsm.StateAIInvoked {
					return false
				}
			}
			return true
		},
	},
	{
		ID:          CommentRequiresReviewReady,
		Description: "comment posting requires a prepared review",
		Severity:    SeverityFatal,
		Predicate: func(c *Context) bool {
			if c.AboutToPostComment == nil || !*c.AboutToPostComment {
				return true
			}
			if c.VisitedStates != nil && !c.VisitedStates[fsm.StateReviewReady] {
				return false
			}
			if c.CurrentState != nil {
				s := *c.CurrentState
				if s != fsm.StateReviewReady && s != fsm.StateCommentPending {
					return false
				}
			}
			return true
		},
	},
	{
		ID:          TerminalStateAbsorbing,
		Description: "no transition leaves a terminal state",
		Severity:    SeverityFatal,
		Predicate: func(c *Context) bool {
			if c.PreviousState == nil {
				return true
			}
			return !fsm.IsTerminalState(*c.PreviousState)
		},
	},
	{
		ID:          InstanceModeConsistent,
		Description: "instance mode agrees with shared-store configuration and health",
		Severity:    SeverityWarn,
		Predicate: func(c *Context) bool {
			if c.InstanceMode == nil || c.SharedStoreEnabled == nil || c.SharedStoreHealthy == nil {
				return true
			}
			switch *c.InstanceMode {
			case "single-instance":
				return !*c.SharedStoreEnabled
			case "distributed":
				return *c.SharedStoreEnabled && *c.SharedStoreHealthy
			case "degraded":
				return *c.SharedStoreEnabled && !*c.SharedStoreHealthy
			}
			return false
		},
	},
	{
		ID:          DecisionCommentConsistent,
		Description: "a posted comment never belongs to a silent path",
		Severity:    SeverityError,
		Predicate: func(c *Context) bool {
			if c.CommentPosted == nil || !*c.CommentPosted || c.DecisionPath == nil {
				return true
			}
			return !strings.HasPrefix(*c.DecisionPath, "silent_exit")
		},
	},
	{
		ID:          MetricsLLMConsistent,
		Description: "metrics model-invocation flag agrees with the execution trace",
		Severity:    SeverityWarn,
		Predicate: func(c *Context) bool {
			if c.AIInvoked == nil || c.MetricsLLMInvoked == nil {
				return true
			}
			if *c.AIInvoked && !*c.MetricsLLMInvoked {
				return false
			}
			return true
		},
	},
}

// Registry returns the invariant definitions in declaration order.
func Registry() []Definition {
	return append([]Definition(nil), registry...)
}

// Definitions returns the registry keyed by ID.
func Definitions() map[ID]Definition {
	out := make(map[ID]Definition, len(registry))
	for _, d := range registry {
		out[d.ID] = d
	}
	return out
}

// IDs returns every invariant ID in declaration order.
func IDs() []ID {
	out := make([]ID, len(registry))
	for i, d := range registry {
		out[i] = d.ID
	}
	return out
}

// SeverityMap returns id -> severity for the contract.
func SeverityMap() map[string]string {
	out := make(map[string]string, len(registry))
	for _, d := range registry {
		out[string(d.ID)] = string(d.Severity)
	}
	return out
}
