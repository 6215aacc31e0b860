// Package fsm implements the pipeline state machine: a fixed set of named
// states, a static transition table, and per-execution machines that record
// every transition they take. Terminal states absorb; attempting to leave one
// is a TerminalStateViolation.
package fsm

// State is one of the 28 pipeline states.
type State string

// Progressing states.
const (
	StateReceived              State = "RECEIVED"
	StateDiffExtractionPending State = "DIFF_EXTRACTION_PENDING"
	StateDiffExtracted         State = "DIFF_EXTRACTED"
	StateDiffExtractionFailed  State = "DIFF_EXTRACTION_FAILED"
	StateFilteringPending      State = "FILTERING_PENDING"
	StateFiltered              State = "FILTERED"
	StateFilteredOut           State = "FILTERED_OUT"
	StatePrecheckPending       State = "PRECHECK_PENDING"
	StatePrechecked            State = "PRECHECKED"
	StateAIGatingPending       State = "AI_GATING_PENDING"
	StateAIApproved            State = "AI_APPROVED"
	StateAIBlockedSafe         State = "AI_BLOCKED_SAFE"
	StateAIBlockedManual       State = "AI_BLOCKED_MANUAL"
	StateAIReviewPending       State = "AI_REVIEW_PENDING"
	StateAIInvoked             State = "AI_INVOKED"
	StateAIResponded           State = "AI_RESPONDED"
	StateAIValidated           State = "AI_VALIDATED"
	StateFallbackPending       State = "FALLBACK_PENDING"
	StateFallbackGenerated     State = "FALLBACK_GENERATED"
)

// Output states.
const (
	StateReviewReady    State = "REVIEW_READY"
	StateCommentPending State = "COMMENT_PENDING"
	StateCommentPosted  State = "COMMENT_POSTED"
	StateCommentFailed  State = "COMMENT_FAILED"
)

// Terminal states.
const (
	StateCompletedSuccess State = "COMPLETED_SUCCESS"
	StateCompletedSilent  State = "COMPLETED_SILENT"
	StateCompletedWarning State = "COMPLETED_WARNING"
	StateAbortedError     State = "ABORTED_ERROR"
	StateAbortedFatal     State = "ABORTED_FATAL"
)

// allStates lists every state in declaration order. The contract serializes a
// sorted copy, so this order only affects readability.
var allStates = []State{
	StateReceived,
	StateDiffExtractionPending,
	StateDiffExtracted,
	StateDiffExtractionFailed,
	StateFilteringPending,
	StateFiltered,
	StateFilteredOut,
	StatePrecheckPending,
	StatePrechecked,
	StateAIGatingPending,
	StateAIApproved,
	StateAIBlockedSafe,
	StateAIBlockedManual,
	StateAIReviewPending,
	StateAIInvoked,
	StateAIResponded,
	StateAIValidated,
	StateFallbackPending,
	StateFallbackGenerated,
	StateReviewReady,
	StateCommentPending,
	StateCommentPosted,
	StateCommentFailed,
	StateCompletedSuccess,
	StateCompletedSilent,
	StateCompletedWarning,
	StateAbortedError,
	StateAbortedFatal,
}

var terminalStates = map[State]bool{
	StateCompletedSuccess: true,
	StateCompletedSilent:  true,
	StateCompletedWarning: true,
	StateAbortedError:     true,
	StateAbortedFatal:     true,
}

// transitions is the static, total transition table. Every non-terminal state
// can reach ABORTED_FATAL so an uncaught error always has a legal exit.
// Terminal states declare no successors.
var transitions = map[State][]State{
	StateReceived:              {StateDiffExtractionPending, StateAbortedFatal},
	StateDiffExtractionPending: {StateDiffExtracted, StateDiffExtractionFailed, StateAbortedFatal},
	StateDiffExtractionFailed:  {StateAbortedError, StateAbortedFatal},
	StateDiffExtracted:         {StateFilteringPending, StateAbortedFatal},
	StateFilteringPending:      {StateFiltered, StateFilteredOut, StateAbortedFatal},
	StateFiltered:              {StatePrecheckPending, StateAbortedFatal},
	StateFilteredOut:           {StateCompletedSilent, StateAbortedFatal},
	StatePrecheckPending:       {StatePrechecked, StateAbortedFatal},
	StatePrechecked:            {StateAIGatingPending, StateAbortedFatal},
	StateAIGatingPending:       {StateAIApproved, StateAIBlockedSafe, StateAIBlockedManual, StateAbortedFatal},
	StateAIApproved:            {StateAIReviewPending, StateAbortedFatal},
	StateAIBlockedSafe:         {StateCompletedSilent, StateAbortedFatal},
	StateAIBlockedManual:       {StateReviewReady, StateAbortedFatal},
	StateAIReviewPending:       {StateAIInvoked, StateFallbackPending, StateAbortedFatal},
	StateAIInvoked:             {StateAIResponded, StateFallbackPending, StateAbortedFatal},
	StateAIResponded:           {StateAIValidated, StateFallbackPending, StateAbortedFatal},
	StateAIValidated:           {StateReviewReady, StateAbortedFatal},
	StateFallbackPending:       {StateFallbackGenerated, StateAbortedFatal},
	StateFallbackGenerated:     {StateReviewReady, StateAbortedFatal},
	StateReviewReady:           {StateCommentPending, StateAbortedFatal},
	StateCommentPending:        {StateCommentPosted, StateCommentFailed, StateAbortedFatal},
	StateCommentPosted:         {StateCompletedSuccess, StateCompletedWarning, StateAbortedFatal},
	StateCommentFailed:         {StateCompletedWarning, StateAbortedError, StateAbortedFatal},
	StateCompletedSuccess:      nil,
	StateCompletedSilent:       nil,
	StateCompletedWarning:      nil,
	StateAbortedError:          nil,
	StateAbortedFatal:          nil,
}

// AllStates returns every state in declaration order.
func AllStates() []State {
	return append([]State(nil), allStates...)
}

// TerminalStates returns the five absorbing states.
func TerminalStates() []State {
	out := make([]State, 0, len(terminalStates))
	for _, s := range allStates {
		if terminalStates[s] {
			out = append(out, s)
		}
	}
	return out
}

// IsTerminalState reports whether s absorbs.
func IsTerminalState(s State) bool {
	return terminalStates[s]
}

// IsValidState reports whether s is in the table at all.
func IsValidState(s State) bool {
	_, ok := transitions[s]
	return ok
}

// Successors returns the allowed successor set for s.
func Successors(s State) []State {
	return append([]State(nil), transitions[s]...)
}
