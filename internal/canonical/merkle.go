package canonical

import (
	"errors"
	"fmt"
)

var (
	// ErrNoLeaves is returned when a tree operation receives an empty leaf set.
	ErrNoLeaves = errors.New("canonical: merkle tree requires at least one leaf")
	// ErrLeafIndex is returned when a proof is requested for an out-of-range leaf.
	ErrLeafIndex = errors.New("canonical: leaf index out of range")
	// ErrProofPosition is returned when a proof step carries an unknown position tag.
	ErrProofPosition = errors.New("canonical: invalid proof position")
)

// Proof step positions. The position names the side the sibling hash sits on.
const (
	PositionLeft  = "left"
	PositionRight = "right"
)

// ProofStep is one sibling on the path from a leaf to the root.
type ProofStep struct {
	Position string `json:"position"`
	Hash     string `json:"hash"`
}

// MerkleRoot folds the leaves bottom-up into a single root hash.
// Odd-sized levels duplicate their last element. Each internal node is the
// SHA-256 of "left|right". A single leaf is its own root.
func MerkleRoot(leaves []string) (string, error) {
	if len(leaves) == 0 {
		return "", ErrNoLeaves
	}
	level := append([]string(nil), leaves...)
	for len(level) > 1 {
		level = foldLevel(level)
	}
	return level[0], nil
}

// MerkleProof returns the ordered sibling list proving leaves[index] is a
// member of the tree over leaves.
func MerkleProof(leaves []string, index int) ([]ProofStep, error) {
	if len(leaves) == 0 {
		return nil, ErrNoLeaves
	}
	if index < 0 || index >= len(leaves) {
		return nil, fmt.Errorf("%w: index %d, leaf count %d", ErrLeafIndex, index, len(leaves))
	}

	proof := make([]ProofStep, 0, 8)
	level := append([]string(nil), leaves...)
	idx := index
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		sibling := idx ^ 1
		if sibling < idx {
			proof = append(proof, ProofStep{Position: PositionLeft, Hash: level[sibling]})
		} else {
			proof = append(proof, ProofStep{Position: PositionRight, Hash: level[sibling]})
		}
		next := make([]string, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, SumHex([]byte(level[i]+"|"+level[i+1])))
		}
		level = next
		idx /= 2
	}
	return proof, nil
}

// RecomputeRoot climbs from leaf through proof and returns the root it lands on.
func RecomputeRoot(leaf string, proof []ProofStep) (string, error) {
	current := leaf
	for _, step := range proof {
		switch step.Position {
		case PositionLeft:
			current = SumHex([]byte(step.Hash + "|" + current))
		case PositionRight:
			current = SumHex([]byte(current + "|" + step.Hash))
		default:
			return "", fmt.Errorf("%w: %q", ErrProofPosition, step.Position)
		}
	}
	return current, nil
}

// VerifyMerkleProof reports whether leaf is proven against root by proof.
func VerifyMerkleProof(leaf string, proof []ProofStep, root string) bool {
	recomputed, err := RecomputeRoot(leaf, proof)
	if err != nil {
		return false
	}
	return recomputed == root
}

func foldLevel(level []string) []string {
	if len(level)%2 == 1 {
		level = append(level, level[len(level)-1])
	}
	next := make([]string, 0, len(level)/2)
	for i := 0; i < len(level); i += 2 {
		next = append(next, SumHex([]byte(level[i]+"|"+level[i+1])))
	}
	return next
}
