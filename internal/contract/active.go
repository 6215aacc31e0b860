package contract

import (
	"sort"
	"time"

	"reviewgate/internal/canonical"
)

// The literals below are the committed schema for ActiveVersion. They are
// deliberately written out rather than derived, so that a code change which
// alters the audited surface shows up as a diff here AND as a validator
// failure at boot until the version is bumped.

var activeStates = []string{
	"ABORTED_ERROR",
	"ABORTED_FATAL",
	"AI_APPROVED",
	"AI_BLOCKED_MANUAL",
	"AI_BLOCKED_SAFE",
	"AI_GATING_PENDING",
	"AI_INVOKED",
	"AI_RESPONDED",
	"AI_REVIEW_PENDING",
	"AI_VALIDATED",
	"COMMENT_FAILED",
	"COMMENT_PENDING",
	"COMMENT_POSTED",
	"COMPLETED_SILENT",
	"COMPLETED_SUCCESS",
	"COMPLETED_WARNING",
	"DIFF_EXTRACTED",
	"DIFF_EXTRACTION_FAILED",
	"DIFF_EXTRACTION_PENDING",
	"FALLBACK_GENERATED",
	"FALLBACK_PENDING",
	"FILTERED",
	"FILTERED_OUT",
	"FILTERING_PENDING",
	"PRECHECKED",
	"PRECHECK_PENDING",
	"RECEIVED",
	"REVIEW_READY",
}

var activeTerminalStates = []string{
	"ABORTED_ERROR",
	"ABORTED_FATAL",
	"COMPLETED_SILENT",
	"COMPLETED_SUCCESS",
	"COMPLETED_WARNING",
}

var activeInvariantSeverities = map[string]string{
	"AI_INVOKE_REQUIRES_APPROVAL":           "fatal",
	"COMMENT_REQUIRES_REVIEW_READY":         "fatal",
	"DECISION_COMMENT_CONSISTENT":           "error",
	"DECISION_PATH_VALID":                   "error",
	"FALLBACK_HAS_REASON":                   "error",
	"GATE_DECISION_RESPECTED":               "fatal",
	"INSTANCE_MODE_CONSISTENT":              "warn",
	"METRICS_LLM_CONSISTENT":                "warn",
	"SEMAPHORE_BOUNDED":                     "error",
	"SEMAPHORE_IN_FLIGHT_MATCHES_ACQUIRED":  "error",
	"SEMAPHORE_PERMITS_NON_NEGATIVE":        "fatal",
	"SILENT_EXIT_NO_COMMENT":                "error",
	"TERMINAL_STATE_ABSORBING":              "fatal",
	"VERDICT_RISKS_CONSISTENT":              "warn",
}

var activePostconditionSeverities = map[string]string{
	"AI_IMPLIES_APPROVAL":          "error",
	"COMMENT_IMPLIES_REVIEW_READY": "error",
	"ERROR_PATH_NOT_SUCCESS":       "fatal",
	"FALLBACK_PATH_CONSISTENT":     "warn",
	"FALLBACK_REQUIRES_REASON":     "error",
	"HISTORY_NOT_EMPTY":            "error",
	"MANUAL_WARNING_HAS_COMMENT":   "error",
	"PATH_MATCHES_FINAL_STATE":     "error",
	"SILENT_EXIT_NO_AI":            "error",
	"SILENT_EXIT_NO_COMMENT":       "error",
	"SUCCESS_REQUIRES_COMMENT":     "error",
	"SUCCESS_REQUIRES_VERDICT":     "error",
	"TERMINAL_STATE_REACHED":       "fatal",
	"WARNING_PATH_CONSISTENT":      "warn",
}

// activeDecisionFields is the committed wire-field list of decision.Record.
var activeDecisionFields = []string{
	"ai_blocked",
	"ai_invoked",
	"attestation_error",
	"comment_posted",
	"contract_hash",
	"contract_version",
	"decision_path",
	"execution_proof_hash",
	"fallback_reason",
	"fallback_used",
	"faults_injected",
	"final_state",
	"formally_valid",
	"gate_reason",
	"head_commit_id",
	"instance_mode",
	"invariants",
	"ledger_hash",
	"owner",
	"postconditions",
	"pr_number",
	"precheck",
	"previous_ledger_hash",
	"processing_time_ms",
	"repo",
	"review_id",
	"state_transitions",
	"timestamp",
	"verdict",
}

// Active returns the committed contract for ActiveVersion.
func Active() Contract {
	invIDs := sortedKeys(activeInvariantSeverities)
	postIDs := sortedKeys(activePostconditionSeverities)

	fields := append([]string(nil), activeDecisionFields...)
	sort.Strings(fields)
	h, err := canonical.HashHex(fields)
	if err != nil {
		panic(err)
	}

	c := Contract{
		Version: ActiveVersion,
		FSMSchema: FSMSchema{
			States:         append([]string(nil), activeStates...),
			TerminalStates: append([]string(nil), activeTerminalStates...),
			StateCount:     len(activeStates),
		},
		InvariantSchema: RegistrySchema{
			IDs:         invIDs,
			Count:       len(invIDs),
			SeverityMap: copyMap(activeInvariantSeverities),
		},
		PostconditionSchema: RegistrySchema{
			IDs:         postIDs,
			Count:       len(postIDs),
			SeverityMap: copyMap(activePostconditionSeverities),
		},
		DecisionSchemaHash: canonical.Truncate16(h),
		CreatedAt:          time.Time{},
		Immutable:          true,
	}
	c.ContractHash = Hash(c)
	return c
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
