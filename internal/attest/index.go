package attest

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"reviewgate/internal/canonical"
	"reviewgate/internal/decision"
)

// Algorithm labels the tree construction for external verifiers.
const Algorithm = "sha256-merkle-v1"

// ErrEmptyIndex is returned when no decisions have been recorded yet.
var ErrEmptyIndex = errors.New("attest: no decisions in the index")

// ErrUnknownReview is returned when a review id has no recorded proof.
var ErrUnknownReview = errors.New("attest: review id not in the index")

// InclusionProof carries everything a third party needs to verify that one
// execution proof is part of the published root.
type InclusionProof struct {
	ReviewID           string                `json:"review_id"`
	ExecutionProofHash string                `json:"execution_proof_hash"`
	Proof              []canonical.ProofStep `json:"proof"`
	Root               string                `json:"root"`
	Algorithm          string                `json:"algorithm"`
}

// Index builds Merkle trees over the chronological execution proofs in the
// decision history. Trees are rebuilt per query from the live history;
// singleflight collapses concurrent rebuilds of the same shape.
type Index struct {
	history decision.History
	group   singleflight.Group
}

// NewIndex returns an index over history.
func NewIndex(history decision.History) *Index {
	return &Index{history: history}
}

// Root computes the Merkle root over all recorded proofs, oldest first.
func (ix *Index) Root(ctx context.Context) (string, int, error) {
	leaves := ix.proofLeaves(ctx)
	if len(leaves) == 0 {
		return "", 0, ErrEmptyIndex
	}
	v, err, _ := ix.group.Do(fmt.Sprintf("root:%d:%s", len(leaves), leaves[len(leaves)-1]), func() (any, error) {
		return canonical.MerkleRoot(leaves)
	})
	if err != nil {
		return "", 0, err
	}
	return v.(string), len(leaves), nil
}

// Proof returns the inclusion proof for reviewID against the current root.
func (ix *Index) Proof(ctx context.Context, reviewID string) (InclusionProof, error) {
	pairs := ix.history.Leaves(ctx)
	if len(pairs) == 0 {
		return InclusionProof{}, ErrEmptyIndex
	}
	index := -1
	leaves := make([]string, len(pairs))
	for i, p := range pairs {
		leaves[i] = p.ProofHash
		if p.ReviewID == reviewID {
			index = i
		}
	}
	if index < 0 {
		return InclusionProof{}, fmt.Errorf("%w: %s", ErrUnknownReview, reviewID)
	}

	steps, err := canonical.MerkleProof(leaves, index)
	if err != nil {
		return InclusionProof{}, err
	}
	root, err := canonical.MerkleRoot(leaves)
	if err != nil {
		return InclusionProof{}, err
	}
	return InclusionProof{
		ReviewID:           reviewID,
		ExecutionProofHash: leaves[index],
		Proof:              steps,
		Root:               root,
		Algorithm:          Algorithm,
	}, nil
}

// Verify checks a leaf against a proof and root. It is stateless so external
// callers can verify proofs produced by another instance.
func (ix *Index) Verify(leaf string, proof []canonical.ProofStep, root string) bool {
	return canonical.VerifyMerkleProof(leaf, proof, root)
}

func (ix *Index) proofLeaves(ctx context.Context) []string {
	pairs := ix.history.Leaves(ctx)
	leaves := make([]string, len(pairs))
	for i, p := range pairs {
		leaves[i] = p.ProofHash
	}
	return leaves
}
