// Package merkle builds binary Merkle trees over ordered leaf digests and
// produces inclusion proofs.
//
// Odd-node rule: when a level has an odd number of nodes, the lone last node
// is carried up to the next level UNCHANGED (no self-pairing, no rehash).
// Carry-up means proofs for trailing leaves are shorter than log2(n) at odd
// counts; the rule is applied consistently by Build, Proof and Verify and is
// covered by a dedicated property test.
//
// Leaves enter level 0 as-is: they are already digests under their own
// domain (e.g. ledger entries), while interior nodes hash under DomainNode,
// so a leaf can never be confused with an interior node.
package merkle

import (
	"errors"
	"fmt"

	"github.com/sealgate/sealgate/internal/canon"
)

// ErrIndexOutOfRange is returned by Proof for an index outside [0, len).
var ErrIndexOutOfRange = errors.New("merkle: leaf index out of range")

// Step is one hop of an inclusion proof: the sibling digest and its side.
type Step struct {
	Sibling canon.Digest `json:"sibling"`
	Left    bool         `json:"left"` // sibling sits left of the running hash
}

// Proof is the ordered sibling path from a leaf up to the root.
type Proof []Step

// Tree is an immutable Merkle tree over an ordered leaf sequence.
type Tree struct {
	levels [][]canon.Digest // levels[0] = leaves, last level = [root]
}

// EmptyRoot is the defined sentinel root of a tree with no leaves.
// It is a real digest (of no data under the node domain), not an error.
func EmptyRoot() canon.Digest {
	return canon.Sum(canon.DomainNode, nil)
}

// Build constructs a tree over the given leaf digests.
// Empty input yields a tree whose Root is EmptyRoot().
func Build(leaves []canon.Digest) *Tree {
	t := &Tree{}
	if len(leaves) == 0 {
		return t
	}

	level := make([]canon.Digest, len(leaves))
	copy(level, leaves)
	t.levels = append(t.levels, level)

	for len(level) > 1 {
		next := make([]canon.Digest, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				// Carry-up: lone node promoted unchanged.
				next = append(next, level[i])
				continue
			}
			next = append(next, parent(level[i], level[i+1]))
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	if len(t.levels) == 0 {
		return 0
	}
	return len(t.levels[0])
}

// Root returns the tree root, or EmptyRoot() for an empty tree.
func (t *Tree) Root() canon.Digest {
	if len(t.levels) == 0 {
		return EmptyRoot()
	}
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Proof returns the inclusion proof for the leaf at index.
func (t *Tree) Proof(index int) (Proof, error) {
	if index < 0 || index >= t.Len() {
		return nil, fmt.Errorf("%w: index %d, leaves %d", ErrIndexOutOfRange, index, t.Len())
	}

	var proof Proof
	pos := index
	for _, level := range t.levels[:len(t.levels)-1] {
		if pos%2 == 0 {
			if pos+1 < len(level) {
				proof = append(proof, Step{Sibling: level[pos+1], Left: false})
			}
			// else: carried up, no sibling at this level
		} else {
			proof = append(proof, Step{Sibling: level[pos-1], Left: true})
		}
		pos /= 2
	}
	return proof, nil
}

// Verify recomputes the root bottom-up from leaf and proof and compares it
// to root. It returns false - never panics - for mismatched content or a
// structurally malformed proof (e.g. a sibling under a foreign algorithm).
func Verify(leaf canon.Digest, proof Proof, root canon.Digest) bool {
	if leaf.IsZero() || root.IsZero() {
		return false
	}
	running := leaf
	for _, step := range proof {
		if step.Sibling.IsZero() || step.Sibling.Algorithm != running.Algorithm {
			return false
		}
		if step.Left {
			running = parent(step.Sibling, running)
		} else {
			running = parent(running, step.Sibling)
		}
	}
	return running.Equal(root)
}

// parent hashes two child digests into an interior node digest.
func parent(left, right canon.Digest) canon.Digest {
	payload := make([]byte, 0, len(left.Hex)+len(right.Hex)+1)
	payload = append(payload, left.Hex...)
	payload = append(payload, 0x00)
	payload = append(payload, right.Hex...)
	return canon.Sum(canon.DomainNode, payload)
}
