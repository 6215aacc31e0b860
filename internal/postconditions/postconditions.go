// Package postconditions defines the terminal-state contracts evaluated once
// per execution. Violations feed the decision record's formally_valid flag:
// any error- or fatal-severity violation (invariant or postcondition) clears it.
package postconditions

import (
	"strings"

	"reviewgate/internal/fsm"
	"reviewgate/internal/invariants"
)

// ID names a postcondition.
type ID string

const (
	SuccessRequiresComment    ID = "SUCCESS_REQUIRES_COMMENT"
	SuccessRequiresVerdict    ID = "SUCCESS_REQUIRES_VERDICT"
	SilentExitNoComment       ID = "SILENT_EXIT_NO_COMMENT"
	SilentExitNoAI            ID = "SILENT_EXIT_NO_AI"
	ManualWarningHasComment   ID = "MANUAL_WARNING_HAS_COMMENT"
	FallbackRequiresReason    ID = "FALLBACK_REQUIRES_REASON"
	ErrorPathNotSuccess       ID = "ERROR_PATH_NOT_SUCCESS"
	TerminalStateReached      ID = "TERMINAL_STATE_REACHED"
	CommentImpliesReviewReady ID = "COMMENT_IMPLIES_REVIEW_READY"
	AIImpliesApproval         ID = "AI_IMPLIES_APPROVAL"
	HistoryNotEmpty           ID = "HISTORY_NOT_EMPTY"
	PathMatchesFinalState     ID = "PATH_MATCHES_FINAL_STATE"
	FallbackPathConsistent    ID = "FALLBACK_PATH_CONSISTENT"
	WarningPathConsistent     ID = "WARNING_PATH_CONSISTENT"
)

// TerminalContext is the complete snapshot available once an execution ends.
type TerminalContext struct {
	FinalState       fsm.State
	IsTerminal       bool
	DecisionPath     string
	CommentPosted    bool
	Verdict          string // empty when no verdict was produced
	AIInvoked        bool
	AIBlocked        bool
	FallbackUsed     bool
	FallbackReason   string
	StateTransitions []fsm.Transition
	VisitedStates    map[fsm.State]bool
	RiskHigh         int
	RiskMedium       int
	RiskLow          int
}

// Definition binds a postcondition to its predicate.
type Definition struct {
	ID          ID
	Description string
	Severity    invariants.Severity
	Predicate   func(*TerminalContext) bool
}

// Violation is a failed terminal contract.
type Violation struct {
	ID          ID                  `json:"id"`
	Description string              `json:"description"`
	Severity    invariants.Severity `json:"severity"`
}

// Report is the outcome of evaluating every postcondition.
type Report struct {
	TotalChecked int         `json:"total_checked"`
	Passed       bool        `json:"passed"`
	Violations   []Violation `json:"violations"`
}

// ViolationIDs returns the violated IDs as strings, in evaluation order.
func (r Report) ViolationIDs() []string {
	out := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		out[i] = string(v.ID)
	}
	return out
}

func silentPath(p string) bool { return strings.HasPrefix(p, "silent_exit") }

var registry = []Definition{
	{
		ID:          SuccessRequiresComment,
		Description: "COMPLETED_SUCCESS requires a posted comment",
		Severity:    invariants.SeverityError,
		Predicate: func(c *TerminalContext) bool {
			if c.FinalState != fsm.StateCompletedSuccess {
				return true
			}
			return c.CommentPosted
		},
	},
	{
		ID:          SuccessRequiresVerdict,
		Description: "COMPLETED_SUCCESS requires a verdict",
		Severity:    invariants.SeverityError,
		Predicate: func(c *TerminalContext) bool {
			if c.FinalState != fsm.StateCompletedSuccess {
				return true
			}
			return c.Verdict != ""
		},
	},
	{
		ID:          SilentExitNoComment,
		Description: "COMPLETED_SILENT forbids a posted comment",
		Severity:    invariants.SeverityError,
		Predicate: func(c *TerminalContext) bool {
			if c.FinalState != fsm.StateCompletedSilent {
				return true
			}
			return !c.CommentPosted
		},
	},
	{
		ID:          SilentExitNoAI,
		Description: "COMPLETED_SILENT forbids a model invocation",
		Severity:    invariants.SeverityError,
		Predicate: func(c *TerminalContext) bool {
			if c.FinalState != fsm.StateCompletedSilent {
				return true
			}
			return !c.AIInvoked
		},
	},
	{
		ID:          ManualWarningHasComment,
		Description: "the manual-review warning path posts its warning comment",
		Severity:    invariants.SeverityError,
		Predicate: func(c *TerminalContext) bool {
			if c.DecisionPath != "manual_review_warning" {
				return true
			}
			return c.CommentPosted
		},
	},
	{
		ID:          FallbackRequiresReason,
		Description: "a fallback review records why the model reply was unusable",
		Severity:    invariants.SeverityError,
		Predicate: func(c *TerminalContext) bool {
			if !c.FallbackUsed {
				return true
			}
			return c.FallbackReason != ""
		},
	},
	{
		ID:          ErrorPathNotSuccess,
		Description: "abort paths never end in COMPLETED_SUCCESS",
		Severity:    invariants.SeverityFatal,
		Predicate: func(c *TerminalContext) bool {
			if c.DecisionPath != "abort_error" && c.DecisionPath != "abort_fatal" {
				return true
			}
			return c.FinalState != fsm.StateCompletedSuccess
		},
	},
	{
		ID:          TerminalStateReached,
		Description: "the execution ended in a declared terminal state",
		Severity:    invariants.SeverityFatal,
		Predicate: func(c *TerminalContext) bool {
			return c.IsTerminal && fsm.IsTerminalState(c.FinalState)
		},
	},
	{
		ID:          CommentImpliesReviewReady,
		Description: "a posted comment implies REVIEW_READY was visited",
		Severity:    invariants.SeverityError,
		Predicate: func(c *TerminalContext) bool {
			if !c.CommentPosted {
				return true
			}
			return c.VisitedStates[fsm.StateReviewReady]
		},
	},
	{
		ID:          AIImpliesApproval,
		Description: "a model invocation implies AI_APPROVED was visited",
		Severity:    invariants.SeverityError,
		Predicate: func(c *TerminalContext) bool {
			if !c.AIInvoked {
				return true
			}
			return c.VisitedStates[fsm.StateAIApproved]
		},
	},
	{
		ID:          HistoryNotEmpty,
		Description: "an admitted execution records at least one transition",
		Severity:    invariants.SeverityError,
		Predicate: func(c *TerminalContext) bool {
			return len(c.StateTransitions) > 0
		},
	},
	{
		ID:          PathMatchesFinalState,
		Description: "the decision path agrees with the terminal state",
		Severity:    invariants.SeverityError,
		Predicate: func(c *TerminalContext) bool {
			switch {
			case silentPath(c.DecisionPath):
				return c.FinalState == fsm.StateCompletedSilent
			case c.DecisionPath == "manual_review_warning":
				return c.FinalState == fsm.StateCompletedWarning
			case c.DecisionPath == "ai_review",
				c.DecisionPath == "ai_fallback_api",
				c.DecisionPath == "ai_fallback_quality":
				return c.FinalState == fsm.StateCompletedSuccess || c.FinalState == fsm.StateCompletedWarning
			case c.DecisionPath == "abort_error":
				return c.FinalState == fsm.StateAbortedError
			case c.DecisionPath == "abort_fatal":
				return c.FinalState == fsm.StateAbortedFatal
			}
			return false
		},
	},
	{
		ID:          FallbackPathConsistent,
		Description: "fallback paths imply the fallback flag",
		Severity:    invariants.SeverityWarn,
		Predicate: func(c *TerminalContext) bool {
			if c.DecisionPath != "ai_fallback_api" && c.DecisionPath != "ai_fallback_quality" {
				return true
			}
			return c.FallbackUsed
		},
	},
	{
		ID:          WarningPathConsistent,
		Description: "COMPLETED_WARNING arises only from warning-capable paths",
		Severity:    invariants.SeverityWarn,
		Predicate: func(c *TerminalContext) bool {
			if c.FinalState != fsm.StateCompletedWarning {
				return true
			}
			switch c.DecisionPath {
			case "manual_review_warning", "ai_review", "ai_fallback_api", "ai_fallback_quality":
				return true
			}
			return false
		},
	},
}

// Registry returns the postcondition definitions in declaration order.
func Registry() []Definition {
	return append([]Definition(nil), registry...)
}

// IDs returns every postcondition ID in declaration order.
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

// Evaluate runs every postcondition against the terminal context.
func Evaluate(ctx *TerminalContext) Report {
	report := Report{TotalChecked: len(registry), Passed: true}
	for _, d := range registry {
		if !d.Predicate(ctx) {
			report.Violations = append(report.Violations, Violation{
				ID:          d.ID,
				Description: d.Description,
				Severity:    d.Severity,
			})
		}
	}
	report.Passed = len(report.Violations) == 0
	return report
}
