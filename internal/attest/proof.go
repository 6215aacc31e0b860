// Package attest seals each execution: a canonical fingerprint of the
// decision record becomes the execution proof hash, every proof is chained
// into a hash ledger, and a Merkle index over the chronological proofs backs
// third-party inclusion verification.
package attest

import (
	"fmt"
	"sort"
	"strings"

	"reviewgate/internal/canonical"
	"reviewgate/internal/decision"
)

// Fingerprint selects the provable subset of a decision record. Fields that
// can legitimately differ between a record and its later verification
// (ledger hashes, free-text details) are excluded so recomputation is stable.
func Fingerprint(rec *decision.Record) map[string]any {
	transitions := make([]any, len(rec.StateTransitions))
	for i, tr := range rec.StateTransitions {
		transitions[i] = map[string]any{"from": tr.From, "to": tr.To}
	}
	invIDs := append([]string(nil), rec.Invariants.ViolationIDs...)
	sort.Strings(invIDs)
	postIDs := append([]string(nil), rec.Postconditions.ViolationIDs...)
	sort.Strings(postIDs)

	var verdict any
	if rec.Verdict != nil {
		verdict = *rec.Verdict
	}

	return map[string]any{
		"contract_hash":    rec.ContractHash,
		"contract_version": rec.ContractVersion,
		"review_id":        rec.ReviewID,
		"pr": map[string]any{
			"owner":  rec.Owner,
			"repo":   rec.Repo,
			"number": rec.PRNumber,
		},
		"decision_path":     rec.DecisionPath,
		"final_state":       rec.FinalState,
		"state_transitions": transitions,
		"invariants": map[string]any{
			"total":         rec.Invariants.Total,
			"warn":          rec.Invariants.Warn,
			"error":         rec.Invariants.Error,
			"fatal":         rec.Invariants.Fatal,
			"violation_ids": invIDs,
		},
		"postconditions": map[string]any{
			"total_checked":   rec.Postconditions.TotalChecked,
			"passed":          rec.Postconditions.Passed,
			"violation_count": rec.Postconditions.ViolationCount,
			"violation_ids":   postIDs,
		},
		"verdict":            verdict,
		"ai_invoked":         rec.AIInvoked,
		"fallback_used":      rec.FallbackUsed,
		"comment_posted":     rec.CommentPosted,
		"processing_time_ms": rec.ProcessingTimeMS,
		"timestamp":          rec.Timestamp,
	}
}

// ProofHash computes the 32-hex execution proof over the fingerprint.
func ProofHash(rec *decision.Record) (string, error) {
	h, err := canonical.HashHex(Fingerprint(rec))
	if err != nil {
		return "", fmt.Errorf("attest: fingerprint hash: %w", err)
	}
	return canonical.Truncate32(h), nil
}

// VerificationError names the hashes that diverged on recomputation.
type VerificationError struct {
	ReviewID string
	Diverged []string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("attest: record %s failed verification: %s diverged",
		e.ReviewID, strings.Join(e.Diverged, ", "))
}

// VerifyRecord recomputes the proof and ledger hashes from the stored record
// and compares them against the hashes it carries. A clean record returns
// nil; any divergence means the record was altered after sealing.
func VerifyRecord(rec *decision.Record) error {
	var diverged []string

	proof, err := ProofHash(rec)
	if err != nil {
		return err
	}
	if proof != rec.ExecutionProofHash {
		diverged = append(diverged, "execution_proof_hash")
	}

	entry := LedgerEntry{
		PreviousLedgerHash: rec.PreviousLedgerHash,
		ExecutionProofHash: rec.ExecutionProofHash,
		ReviewID:           rec.ReviewID,
		Timestamp:          rec.Timestamp,
		LedgerHash:         rec.LedgerHash,
	}
	if !VerifyEntryHash(entry) {
		diverged = append(diverged, "ledger_hash")
	}

	if len(diverged) > 0 {
		return &VerificationError{ReviewID: rec.ReviewID, Diverged: diverged}
	}
	return nil
}
