// Package decision defines the per-execution decision record and the
// append-only history it is stored in. The record is the unit the attestation
// layer seals: its canonical fingerprint produces the execution proof hash,
// and the history ring is the source of the Merkle index.
package decision

import (
	"reflect"
	"sort"
	"strings"

	"reviewgate/internal/canonical"
	"reviewgate/internal/fsm"
)

// FallbackReason records why a deterministic review replaced the model's.
type FallbackReason struct {
	Trigger string `json:"trigger"`
	Details string `json:"details,omitempty"`
}

// PrecheckSummary condenses the risk-signal bundle onto the record.
type PrecheckSummary struct {
	High               int      `json:"high"`
	Medium             int      `json:"medium"`
	Low                int      `json:"low"`
	CriticalCategories []string `json:"critical_categories"`
}

// InvariantSummary condenses the invariant violations observed in flight.
type InvariantSummary struct {
	Total        int      `json:"total"`
	Warn         int      `json:"warn"`
	Error        int      `json:"error"`
	Fatal        int      `json:"fatal"`
	ViolationIDs []string `json:"violation_ids"`
}

// PostconditionSummary condenses the terminal-state report.
type PostconditionSummary struct {
	TotalChecked   int                  `json:"total_checked"`
	Passed         bool                 `json:"passed"`
	ViolationCount int                  `json:"violation_count"`
	ViolationIDs   []string             `json:"violation_ids"`
	Violations     []PostconditionIssue `json:"violations,omitempty"`
}

// PostconditionIssue is one failed terminal contract on the record.
type PostconditionIssue struct {
	ID       string `json:"id"`
	Severity string `json:"severity"`
	Message  string `json:"message,omitempty"`
}

// StateTransition is the wire form of one machine step.
type StateTransition struct {
	From   string `json:"from"`
	To     string `json:"to"`
	At     string `json:"at"`
	Reason string `json:"reason,omitempty"`
}

// Record is the single append-only object summarizing one execution.
type Record struct {
	ReviewID     string `json:"review_id"`
	Timestamp    string `json:"timestamp"`
	Owner        string `json:"owner"`
	Repo         string `json:"repo"`
	PRNumber     int    `json:"pr_number"`
	HeadCommitID string `json:"head_commit_id"`

	DecisionPath   string          `json:"decision_path"`
	GateReason     string          `json:"gate_reason"`
	AIInvoked      bool            `json:"ai_invoked"`
	AIBlocked      bool            `json:"ai_blocked"`
	FallbackUsed   bool            `json:"fallback_used"`
	FallbackReason *FallbackReason `json:"fallback_reason,omitempty"`
	Precheck       PrecheckSummary `json:"precheck"`
	Verdict        *string         `json:"verdict"`
	CommentPosted  bool            `json:"comment_posted"`

	ProcessingTimeMS int64    `json:"processing_time_ms"`
	InstanceMode     string   `json:"instance_mode"`
	FaultsInjected   []string `json:"faults_injected"`

	Invariants       InvariantSummary     `json:"invariants"`
	StateTransitions []StateTransition    `json:"state_transitions"`
	FinalState       string               `json:"final_state"`
	Postconditions   PostconditionSummary `json:"postconditions"`
	FormallyValid    bool                 `json:"formally_valid"`

	ContractVersion    string `json:"contract_version"`
	ContractHash       string `json:"contract_hash"`
	ExecutionProofHash string `json:"execution_proof_hash"`
	LedgerHash         string `json:"ledger_hash"`
	PreviousLedgerHash string `json:"previous_ledger_hash"`
	AttestationError   string `json:"attestation_error,omitempty"`
}

// RepoFullName returns owner/repo for list views.
func (r *Record) RepoFullName() string {
	return r.Owner + "/" + r.Repo
}

// TransitionsFromMachine lowers machine history into the wire form.
func TransitionsFromMachine(history []fsm.Transition) []StateTransition {
	out := make([]StateTransition, len(history))
	for i, tr := range history {
		out[i] = StateTransition{
			From:   string(tr.From),
			To:     string(tr.To),
			At:     tr.At.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			Reason: tr.Reason,
		}
	}
	return out
}

// SchemaHash derives the 16-hex decision schema hash from the record's wire
// field names. Renaming, adding, or removing a field changes the hash, which
// the contract validator surfaces as a fatal mismatch at boot.
func SchemaHash() string {
	fields := schemaFields(reflect.TypeOf(Record{}))
	sort.Strings(fields)
	h, err := canonical.HashHex(fields)
	if err != nil {
		// A []string never fails to canonicalize.
		panic(err)
	}
	return canonical.Truncate16(h)
}

func schemaFields(t reflect.Type) []string {
	fields := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		name := strings.Split(tag, ",")[0]
		fields = append(fields, name)
	}
	return fields
}
