package attest

import (
	"fmt"
	"sync"
	"time"

	"reviewgate/internal/canonical"
)

// genesisHash seeds the chain; the first real entry links back to it.
const genesisHash = "GENESIS"

// LedgerEntry is one link in the hash chain. The entry hash covers the
// previous hash, so rewriting any historical entry breaks every later link.
type LedgerEntry struct {
	PreviousLedgerHash string `json:"previous_ledger_hash"`
	ExecutionProofHash string `json:"execution_proof_hash"`
	ReviewID           string `json:"review_id"`
	Timestamp          string `json:"timestamp"`
	LedgerHash         string `json:"ledger_hash"`
}

// Ledger is the in-process hash chain. Appends are serialized; the chain
// order is the order decisions were sealed on this instance.
type Ledger struct {
	mu         sync.Mutex
	lastHash   string
	entryCount int
}

// NewLedger returns an empty chain anchored at the genesis hash.
func NewLedger() *Ledger {
	return &Ledger{lastHash: genesisHash}
}

// Append links a new entry to the chain and returns it.
func (l *Ledger) Append(proofHash, reviewID string, ts time.Time) (LedgerEntry, error) {
	if proofHash == "" {
		return LedgerEntry{}, fmt.Errorf("attest: empty proof hash for %s", reviewID)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := LedgerEntry{
		PreviousLedgerHash: l.lastHash,
		ExecutionProofHash: proofHash,
		ReviewID:           reviewID,
		Timestamp:          ts.UTC().Format(time.RFC3339),
	}
	entry.LedgerHash = entryHash(entry)
	l.lastHash = entry.LedgerHash
	l.entryCount++
	return entry, nil
}

// LastHash returns the hash of the most recent entry, or the genesis hash.
func (l *Ledger) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastHash
}

// Len returns the number of entries appended so far.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entryCount
}

// VerifyEntryHash recomputes e's hash from its own fields.
func VerifyEntryHash(e LedgerEntry) bool {
	return entryHash(e) == e.LedgerHash
}

// VerifyChain walks entries in order, checking every entry hash and every
// previous-hash link. It returns the index of the first broken entry, or
// (true, -1) for an intact chain. The first entry must link to genesis.
func VerifyChain(entries []LedgerEntry) (bool, int) {
	prev := genesisHash
	for i, e := range entries {
		if e.PreviousLedgerHash != prev || !VerifyEntryHash(e) {
			return false, i
		}
		prev = e.LedgerHash
	}
	return true, -1
}

func entryHash(e LedgerEntry) string {
	input := e.PreviousLedgerHash + "|" + e.ExecutionProofHash + "|" + e.ReviewID + "|" + e.Timestamp
	return canonical.SumHex([]byte(input))
}
