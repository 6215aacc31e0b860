package attest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"reviewgate/internal/decision"
)

func sampleRecord(id string) *decision.Record {
	verdict := "requires_changes"
	return &decision.Record{
		ReviewID:  id,
		Timestamp: "2026-08-26T10:00:00Z",
		Owner:     "acme",
		Repo:      "payments",
		PRNumber:  42,

		DecisionPath: "ai_review",
		AIInvoked:    true,
		Verdict:      &verdict,
		StateTransitions: []decision.StateTransition{
			{From: "IDLE", To: "WEBHOOK_RECEIVED", At: "2026-08-26T10:00:00.000Z"},
			{From: "WEBHOOK_RECEIVED", To: "VALIDATING_PAYLOAD", At: "2026-08-26T10:00:00.010Z"},
		},
		FinalState: "COMPLETED_AI_REVIEW",

		Invariants: decision.InvariantSummary{Total: 0},
		Postconditions: decision.PostconditionSummary{
			TotalChecked: 14,
			Passed:       true,
		},
		FormallyValid: true,

		ContractVersion:  "1.0.0",
		ContractHash:     "0123456789abcdef",
		ProcessingTimeMS: 250,
	}
}

func TestProofHashStable(t *testing.T) {
	rec := sampleRecord("rev-1")
	first, err := ProofHash(rec)
	if err != nil {
		t.Fatalf("ProofHash: %v", err)
	}
	if len(first) != 32 {
		t.Fatalf("proof length = %d, want 32", len(first))
	}
	for i := 0; i < 5; i++ {
		again, _ := ProofHash(rec)
		if again != first {
			t.Fatalf("proof unstable: %s != %s", again, first)
		}
	}
}

func TestProofHashIgnoresLedgerFields(t *testing.T) {
	rec := sampleRecord("rev-1")
	base, _ := ProofHash(rec)

	rec.LedgerHash = "aaaa"
	rec.PreviousLedgerHash = "bbbb"
	rec.GateReason = "changed free text"
	after, _ := ProofHash(rec)
	if after != base {
		t.Fatal("proof must not cover ledger hashes or non-fingerprint fields")
	}

	rec.FinalState = "ABORTED_ERROR"
	if changed, _ := ProofHash(rec); changed == base {
		t.Fatal("proof must cover the final state")
	}
}

func TestProofHashSortsViolationIDs(t *testing.T) {
	a := sampleRecord("rev-1")
	a.Invariants.ViolationIDs = []string{"I-SEM", "I-ORD"}
	b := sampleRecord("rev-1")
	b.Invariants.ViolationIDs = []string{"I-ORD", "I-SEM"}

	ha, _ := ProofHash(a)
	hb, _ := ProofHash(b)
	if ha != hb {
		t.Fatal("violation id order must not affect the proof")
	}
}

func TestLedgerChain(t *testing.T) {
	l := NewLedger()
	if l.LastHash() != "GENESIS" {
		t.Fatalf("initial last hash = %s", l.LastHash())
	}

	ts := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	var entries []LedgerEntry
	for i := 0; i < 4; i++ {
		e, err := l.Append(fmt.Sprintf("proof-%d", i), fmt.Sprintf("rev-%d", i), ts.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		entries = append(entries, e)
	}

	if entries[0].PreviousLedgerHash != "GENESIS" {
		t.Fatal("first entry must link to genesis")
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PreviousLedgerHash != entries[i-1].LedgerHash {
			t.Fatalf("entry %d not linked to its predecessor", i)
		}
	}
	for i, e := range entries {
		if len(e.LedgerHash) != 64 {
			t.Fatalf("entry %d hash length = %d", i, len(e.LedgerHash))
		}
		if !VerifyEntryHash(e) {
			t.Fatalf("entry %d fails hash verification", i)
		}
	}
	if ok, idx := VerifyChain(entries); !ok {
		t.Fatalf("intact chain reported broken at %d", idx)
	}
}

func TestVerifyChainBreakIndex(t *testing.T) {
	l := NewLedger()
	ts := time.Now()
	var entries []LedgerEntry
	for i := 0; i < 4; i++ {
		e, _ := l.Append(fmt.Sprintf("proof-%d", i), fmt.Sprintf("rev-%d", i), ts)
		entries = append(entries, e)
	}

	entries[2].ExecutionProofHash = "tampered"
	ok, idx := VerifyChain(entries)
	if ok || idx != 2 {
		t.Fatalf("VerifyChain = (%v, %d), want (false, 2)", ok, idx)
	}
}

func TestVerifyRecord(t *testing.T) {
	l := NewLedger()
	rec := sampleRecord("rev-1")
	proof, err := ProofHash(rec)
	if err != nil {
		t.Fatalf("ProofHash: %v", err)
	}
	rec.ExecutionProofHash = proof
	ts, _ := time.Parse(time.RFC3339, rec.Timestamp)
	entry, err := l.Append(proof, rec.ReviewID, ts)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	rec.LedgerHash = entry.LedgerHash
	rec.PreviousLedgerHash = entry.PreviousLedgerHash

	if err := VerifyRecord(rec); err != nil {
		t.Fatalf("clean record failed verification: %v", err)
	}

	tampered := *rec
	tampered.DecisionPath = "silent_exit_safe"
	err = VerifyRecord(&tampered)
	var ve *VerificationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want VerificationError", err)
	}
	if len(ve.Diverged) != 1 || ve.Diverged[0] != "execution_proof_hash" {
		t.Fatalf("diverged = %v", ve.Diverged)
	}

	tampered = *rec
	tampered.LedgerHash = "0000"
	err = VerifyRecord(&tampered)
	if !errors.As(err, &ve) || ve.Diverged[0] != "ledger_hash" {
		t.Fatalf("err = %v, want ledger_hash divergence", err)
	}
}

func seededIndex(t *testing.T, n int) (*Index, decision.History) {
	t.Helper()
	ctx := context.Background()
	h := decision.NewLocalHistory(100)
	l := NewLedger()
	for i := 0; i < n; i++ {
		rec := sampleRecord(fmt.Sprintf("rev-%d", i))
		rec.PRNumber = i
		proof, err := ProofHash(rec)
		if err != nil {
			t.Fatalf("ProofHash: %v", err)
		}
		rec.ExecutionProofHash = proof
		entry, _ := l.Append(proof, rec.ReviewID, time.Now())
		rec.LedgerHash = entry.LedgerHash
		rec.PreviousLedgerHash = entry.PreviousLedgerHash
		h.Append(ctx, rec)
	}
	return NewIndex(h), h
}

func TestIndexEmpty(t *testing.T) {
	ix := NewIndex(decision.NewLocalHistory(10))
	if _, _, err := ix.Root(context.Background()); !errors.Is(err, ErrEmptyIndex) {
		t.Fatalf("Root on empty index = %v, want ErrEmptyIndex", err)
	}
	if _, err := ix.Proof(context.Background(), "rev-0"); !errors.Is(err, ErrEmptyIndex) {
		t.Fatalf("Proof on empty index = %v, want ErrEmptyIndex", err)
	}
}

func TestIndexProofVerifies(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			ix, _ := seededIndex(t, n)
			ctx := context.Background()

			root, count, err := ix.Root(ctx)
			if err != nil {
				t.Fatalf("Root: %v", err)
			}
			if count != n {
				t.Fatalf("leaf count = %d, want %d", count, n)
			}
			// A single leaf is its own root; larger trees produce full digests.
			if n > 1 && len(root) != 64 {
				t.Fatalf("root = %s", root)
			}

			for i := 0; i < n; i++ {
				p, err := ix.Proof(ctx, fmt.Sprintf("rev-%d", i))
				if err != nil {
					t.Fatalf("Proof(rev-%d): %v", i, err)
				}
				if p.Root != root || p.Algorithm != Algorithm {
					t.Fatalf("proof metadata mismatch: %+v", p)
				}
				if !ix.Verify(p.ExecutionProofHash, p.Proof, p.Root) {
					t.Fatalf("inclusion proof for rev-%d does not verify", i)
				}
				if ix.Verify("not-the-leaf", p.Proof, p.Root) {
					t.Fatal("foreign leaf must not verify")
				}
			}
		})
	}
}

func TestIndexUnknownReview(t *testing.T) {
	ix, _ := seededIndex(t, 3)
	if _, err := ix.Proof(context.Background(), "rev-404"); !errors.Is(err, ErrUnknownReview) {
		t.Fatalf("err = %v, want ErrUnknownReview", err)
	}
}
