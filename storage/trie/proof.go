package trie

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// ProofStep records one internal node on the lookup path: the slot that was
// followed and the hashes of all 16 slots (empty slots carry the null hash),
// enough to recompute the node's hash.
type ProofStep struct {
	Index  byte
	Hashes [branchWidth]common.Hash
}

// ProofLeaf records the leaf the lookup path terminated in, if any. For an
// exclusion proof the leaf's key hash differs from the proven key.
type ProofLeaf struct {
	KeyHash   common.Hash
	ValueHash common.Hash
}

// Proof is a commitment path from the root to the position of a key. It
// proves inclusion when the key is present and exclusion when the path ends
// in an empty slot or in a leaf for a different key.
type Proof struct {
	Steps []ProofStep // root to leaf order
	Leaf  *ProofLeaf
}

func newProofStep(n *InternalNode, idx byte) ProofStep {
	step := ProofStep{Index: idx}
	for i, c := range n.Children {
		if c == nil {
			step.Hashes[i] = nullNodeHash
		} else {
			step.Hashes[i] = c.Hash
		}
	}
	return step
}

// Verify checks the proof against a trusted root hash. A non-nil blob
// asserts inclusion of (keyHash, blob); a nil blob asserts exclusion of
// keyHash. The check is self-contained and performs no store reads.
func (p *Proof) Verify(root common.Hash, keyHash common.Hash, blob []byte) error {
	current, err := p.terminalHash(keyHash, blob)
	if err != nil {
		return err
	}
	nibs := hashNibbles(keyHash)
	for i := len(p.Steps) - 1; i >= 0; i-- {
		step := p.Steps[i]
		if i >= len(nibs) || step.Index != nibs[i] {
			return fmt.Errorf("proof step %d follows slot %d, key expects %d", i, step.Index, nibs[i])
		}
		if step.Hashes[step.Index] != current {
			return fmt.Errorf("proof step %d does not commit to its child", i)
		}
		current = internalHash(step.Hashes)
	}
	if current != root {
		return fmt.Errorf("proof root %x does not match %x", current, root)
	}
	return nil
}

// terminalHash computes the hash the deepest proof step must commit to.
func (p *Proof) terminalHash(keyHash common.Hash, blob []byte) (common.Hash, error) {
	if blob != nil {
		if p.Leaf == nil {
			return common.Hash{}, errors.New("inclusion proof carries no leaf")
		}
		if p.Leaf.KeyHash != keyHash {
			return common.Hash{}, errors.New("inclusion proof leaf is for a different key")
		}
		if p.Leaf.ValueHash != ValueHash(blob) {
			return common.Hash{}, errors.New("inclusion proof leaf does not commit to the blob")
		}
		return leafHash(p.Leaf.KeyHash, p.Leaf.ValueHash), nil
	}
	if p.Leaf == nil {
		// Path ended in an empty slot (or an empty trie).
		return nullNodeHash, nil
	}
	if p.Leaf.KeyHash == keyHash {
		return common.Hash{}, errors.New("exclusion proof leaf matches the key")
	}
	// The terminating leaf must sit on the key's path: its hash must share
	// every traversed nibble with the proven key.
	leafNibs := hashNibbles(p.Leaf.KeyHash)
	keyNibs := hashNibbles(keyHash)
	if !bytes.Equal(leafNibs[:len(p.Steps)], keyNibs[:len(p.Steps)]) {
		return common.Hash{}, errors.New("exclusion proof leaf is off the key path")
	}
	return leafHash(p.Leaf.KeyHash, p.Leaf.ValueHash), nil
}

// RangeLeaf is one (key hash, blob) pair of a range proof.
type RangeLeaf struct {
	KeyHash common.Hash
	Blob    []byte
}

// RangeProof carries a contiguous ascending span of leaves together with
// inclusion proofs for its boundaries.
type RangeProof struct {
	Leaves []RangeLeaf
	First  *Proof
	Last   *Proof
}

// GetRange collects up to limit leaves with key hashes at or above start, in
// ascending key-hash order, plus boundary proofs. The traversal walks child
// slots in nibble order, so leaf order matches key-hash order by
// construction.
func (t *Trie) GetRange(version uint64, start common.Hash, limit int) (*RangeProof, error) {
	if limit <= 0 {
		return nil, errors.New("trie: range limit must be positive")
	}
	root, err := t.rootNode(version)
	if err != nil {
		return nil, err
	}
	leaves := make([]RangeLeaf, 0, limit)
	if err := t.collectLeaves(root, start, limit, &leaves); err != nil {
		return nil, err
	}
	proof := &RangeProof{Leaves: leaves}
	if len(leaves) == 0 {
		return proof, nil
	}
	if _, proof.First, err = t.GetWithProof(version, leaves[0].KeyHash); err != nil {
		return nil, err
	}
	if _, proof.Last, err = t.GetWithProof(version, leaves[len(leaves)-1].KeyHash); err != nil {
		return nil, err
	}
	return proof, nil
}

func (t *Trie) collectLeaves(node Node, start common.Hash, limit int, out *[]RangeLeaf) error {
	if len(*out) >= limit {
		return nil
	}
	switch n := node.(type) {
	case *NullNode:
		return nil
	case *LeafNode:
		if bytes.Compare(n.KeyHash[:], start[:]) >= 0 {
			if ValueHash(n.Blob) != n.ValueHash {
				return fmt.Errorf("%w: blob for %x does not match its digest", ErrCorrupted, n.KeyHash)
			}
			*out = append(*out, RangeLeaf{
				KeyHash: n.KeyHash,
				Blob:    append([]byte(nil), n.Blob...),
			})
		}
		return nil
	case *InternalNode:
		for _, c := range n.Children {
			if c == nil {
				continue
			}
			child, err := t.childNode(c)
			if err != nil {
				return err
			}
			if err := t.collectLeaves(child, start, limit, out); err != nil {
				return err
			}
			if len(*out) >= limit {
				return nil
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unexpected node type %T", ErrCorrupted, node)
	}
}

// Verify checks the boundary proofs against the root hash and the internal
// consistency of the span: ascending unique key hashes, with every blob
// committed by its key position at the boundaries.
func (rp *RangeProof) Verify(root common.Hash) error {
	if len(rp.Leaves) == 0 {
		return nil
	}
	if !sort.SliceIsSorted(rp.Leaves, func(i, j int) bool {
		return bytes.Compare(rp.Leaves[i].KeyHash[:], rp.Leaves[j].KeyHash[:]) < 0
	}) {
		return errors.New("range proof leaves out of order")
	}
	first := rp.Leaves[0]
	last := rp.Leaves[len(rp.Leaves)-1]
	if rp.First == nil || rp.Last == nil {
		return errors.New("range proof missing boundary proofs")
	}
	if err := rp.First.Verify(root, first.KeyHash, first.Blob); err != nil {
		return fmt.Errorf("range lower bound: %w", err)
	}
	if err := rp.Last.Verify(root, last.KeyHash, last.Blob); err != nil {
		return fmt.Errorf("range upper bound: %w", err)
	}
	return nil
}
