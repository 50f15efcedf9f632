package trie

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"lukechampine.com/blake3"
)

// ErrVersionNotFound is returned when a lookup targets a version that was
// never committed.
var ErrVersionNotFound = errors.New("trie: version not found")

// Trie is the versioned, authenticated mapping from key hashes to value
// blobs. It owns no storage: all reads go through the node reader and all
// mutation output is returned to the caller as a MutationBatch, so the
// caller controls atomic persistence.
//
// Nodes are immutable once written, which makes concurrent reads, including
// reads across different versions, safe without locking.
type Trie struct {
	reader NodeReader
}

func New(reader NodeReader) *Trie {
	return &Trie{reader: reader}
}

// BlobUpdate sets or, when Blob is nil, removes the value held under
// KeyHash.
type BlobUpdate struct {
	KeyHash common.Hash
	Blob    []byte
}

// MutationBatch is the output of one PutBlobSets call: the new nodes to
// persist plus, per produced version, the node keys superseded by that
// version. The stale index is what a future pruner consumes; it is written
// once and never mutated.
type MutationBatch struct {
	Nodes map[NodeKey]Node

	stale       map[uint64]map[NodeKey]struct{}
	staleLeaves int
}

func newMutationBatch() *MutationBatch {
	return &MutationBatch{
		Nodes: make(map[NodeKey]Node),
		stale: make(map[uint64]map[NodeKey]struct{}),
	}
}

func (b *MutationBatch) markStale(version uint64, key NodeKey, node Node) {
	if key.Version >= version {
		// Created within this batch, nothing persisted to supersede.
		return
	}
	keys, ok := b.stale[version]
	if !ok {
		keys = make(map[NodeKey]struct{})
		b.stale[version] = keys
	}
	if _, seen := keys[key]; seen {
		return
	}
	keys[key] = struct{}{}
	if _, isLeaf := node.(*LeafNode); isLeaf {
		b.staleLeaves++
	}
}

// StaleAt returns the node keys superseded by the given version, sorted by
// their canonical encoding.
func (b *MutationBatch) StaleAt(version uint64) []NodeKey {
	keys := make([]NodeKey, 0, len(b.stale[version]))
	for k := range b.stale[version] {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i].Bytes(), keys[j].Bytes()) < 0
	})
	return keys
}

// Versions returns the versions for which this batch carries a stale index,
// ascending.
func (b *MutationBatch) Versions() []uint64 {
	versions := make([]uint64, 0, len(b.stale))
	for v := range b.stale {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions
}

// SortedNodeKeys returns the keys of all new nodes sorted by their canonical
// encoding, for deterministic persistence order.
func (b *MutationBatch) SortedNodeKeys() []NodeKey {
	keys := make([]NodeKey, 0, len(b.Nodes))
	for k := range b.Nodes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i].Bytes(), keys[j].Bytes()) < 0
	})
	return keys
}

// NewLeaves counts the leaf nodes created by this batch.
func (b *MutationBatch) NewLeaves() int {
	count := 0
	for _, n := range b.Nodes {
		if _, ok := n.(*LeafNode); ok {
			count++
		}
	}
	return count
}

// StaleLeaves counts the leaf nodes superseded by this batch.
func (b *MutationBatch) StaleLeaves() int {
	return b.staleLeaves
}

// ValueHash is the content digest stored alongside a blob in its leaf.
func ValueHash(blob []byte) common.Hash {
	return blake3.Sum256(blob)
}

// Get returns the blob stored under keyHash at the given version. The
// second return is false when the key is absent at that version.
func (t *Trie) Get(version uint64, keyHash common.Hash) ([]byte, bool, error) {
	return t.traverse(version, keyHash, nil)
}

// GetWithProof behaves like Get and additionally returns a proof of
// inclusion (key present) or exclusion (key absent) that verifies against
// the root hash of the version without trusting the store.
func (t *Trie) GetWithProof(version uint64, keyHash common.Hash) ([]byte, *Proof, error) {
	proof := &Proof{}
	blob, found, err := t.traverse(version, keyHash, proof)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, proof, nil
	}
	return blob, proof, nil
}

// RootHash returns the published root hash at the given version.
func (t *Trie) RootHash(version uint64) (common.Hash, error) {
	root, err := t.rootNode(version)
	if err != nil {
		return common.Hash{}, err
	}
	return root.Hash(), nil
}

func (t *Trie) rootNode(version uint64) (Node, error) {
	node, err := t.reader.GetNode(RootKey(version))
	if err != nil {
		return nil, err
	}
	if node == nil {
		if version == 0 {
			// Version 0 is the empty pre-genesis state; it has no stored
			// root, so reads against it see an empty trie.
			return &NullNode{}, nil
		}
		return nil, fmt.Errorf("%w: version %d", ErrVersionNotFound, version)
	}
	return node, nil
}

func (t *Trie) childNode(child *Child) (Node, error) {
	node, err := t.reader.GetNode(child.Key)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, fmt.Errorf("%w: missing node %s", ErrCorrupted, child.Key)
	}
	if node.Hash() != child.Hash {
		return nil, fmt.Errorf("%w: node %s hash mismatch", ErrCorrupted, child.Key)
	}
	return node, nil
}

func (t *Trie) traverse(version uint64, keyHash common.Hash, proof *Proof) ([]byte, bool, error) {
	node, err := t.rootNode(version)
	if err != nil {
		return nil, false, err
	}
	nibs := hashNibbles(keyHash)
	for depth := 0; ; depth++ {
		switch n := node.(type) {
		case *NullNode:
			return nil, false, nil
		case *LeafNode:
			leafNibs := hashNibbles(n.KeyHash)
			if !bytes.Equal(leafNibs[:depth], nibs[:depth]) {
				return nil, false, fmt.Errorf("%w: leaf %x stored off its key path", ErrCorrupted, n.KeyHash)
			}
			if proof != nil {
				proof.Leaf = &ProofLeaf{KeyHash: n.KeyHash, ValueHash: n.ValueHash}
			}
			if n.KeyHash != keyHash {
				// Shared path prefix with a different key: absent.
				return nil, false, nil
			}
			// The leaf hash commits to the value digest, not the blob, so
			// the blob must be checked against the digest on every read.
			if ValueHash(n.Blob) != n.ValueHash {
				return nil, false, fmt.Errorf("%w: blob for %x does not match its digest", ErrCorrupted, n.KeyHash)
			}
			return append([]byte(nil), n.Blob...), true, nil
		case *InternalNode:
			if depth >= len(nibs) {
				return nil, false, fmt.Errorf("%w: internal node below maximum depth", ErrCorrupted)
			}
			idx := nibs[depth]
			if proof != nil {
				proof.Steps = append(proof.Steps, newProofStep(n, idx))
			}
			child := n.Children[idx]
			if child == nil {
				return nil, false, nil
			}
			next, err := t.childNode(child)
			if err != nil {
				return nil, false, err
			}
			node = next
		default:
			return nil, false, fmt.Errorf("%w: unexpected node type %T", ErrCorrupted, node)
		}
	}
}

// PutBlobSets applies one or more ordered update sets, one trie version per
// set, starting above baseVersion. It is a pure computation: the only I/O is
// reads through the node reader, and every new node is handed back in the
// MutationBatch so the caller can persist it atomically with unrelated
// state. Unmodified subtrees keep their existing node keys; every rebuilt
// path mints keys at the new version and records the superseded keys in the
// stale index.
func (t *Trie) PutBlobSets(sets [][]BlobUpdate, baseVersion uint64) ([]common.Hash, *MutationBatch, error) {
	batch := newMutationBatch()
	roots := make([]common.Hash, 0, len(sets))
	for i, set := range sets {
		version := baseVersion + uint64(i) + 1
		root, err := t.applySet(batch, version, set)
		if err != nil {
			return nil, nil, err
		}
		roots = append(roots, root)
	}
	return roots, batch, nil
}

func (t *Trie) applySet(batch *MutationBatch, version uint64, set []BlobUpdate) (common.Hash, error) {
	oldKey := RootKey(version - 1)
	root, err := t.nodeAt(batch, oldKey)
	if err != nil {
		return common.Hash{}, err
	}
	if root == nil {
		if version-1 != 0 {
			return common.Hash{}, fmt.Errorf("%w: base version %d", ErrVersionNotFound, version-1)
		}
		root = &NullNode{}
	} else {
		// A new root node is always minted for the new version, so the old
		// one becomes unreachable from it.
		batch.markStale(version, oldKey, root)
	}
	for _, upd := range set {
		nibs := hashNibbles(upd.KeyHash)
		root, _, err = t.applyUpdate(batch, version, root, oldKey, "", nibs, upd.KeyHash, upd.Blob)
		if err != nil {
			return common.Hash{}, err
		}
		oldKey = RootKey(version)
	}
	batch.Nodes[RootKey(version)] = root
	return root.Hash(), nil
}

func (t *Trie) nodeAt(batch *MutationBatch, key NodeKey) (Node, error) {
	if node, ok := batch.Nodes[key]; ok {
		return node, nil
	}
	return t.reader.GetNode(key)
}

// applyUpdate rewrites the subtree rooted at path so keyHash maps to blob
// (or is absent, for a nil blob). node is the current occupant of path and
// nodeKey its physical key; the returned node is the new occupant, with
// changed=false meaning the subtree was left untouched. New nodes are
// recorded in the batch under (version, path); superseded keys go to the
// stale index.
func (t *Trie) applyUpdate(batch *MutationBatch, version uint64, node Node, nodeKey NodeKey, path string, nibs []byte, keyHash common.Hash, blob []byte) (Node, bool, error) {
	depth := len(path)
	switch n := node.(type) {
	case *NullNode:
		if blob == nil {
			return n, false, nil
		}
		leaf := &LeafNode{
			KeyHash:   keyHash,
			ValueHash: ValueHash(blob),
			Blob:      append([]byte(nil), blob...),
		}
		batch.Nodes[NodeKey{Version: version, Path: path}] = leaf
		return leaf, true, nil

	case *LeafNode:
		if n.KeyHash == keyHash {
			if blob == nil {
				batch.markStale(version, nodeKey, n)
				return &NullNode{}, true, nil
			}
			valueHash := ValueHash(blob)
			if valueHash == n.ValueHash {
				return n, false, nil
			}
			batch.markStale(version, nodeKey, n)
			leaf := &LeafNode{
				KeyHash:   keyHash,
				ValueHash: valueHash,
				Blob:      append([]byte(nil), blob...),
			}
			batch.Nodes[NodeKey{Version: version, Path: path}] = leaf
			return leaf, true, nil
		}
		if blob == nil {
			// Removing a key that is not present.
			return n, false, nil
		}
		return t.splitLeaf(batch, version, path, n, nodeKey, nibs, keyHash, blob)

	case *InternalNode:
		if depth >= len(nibs) {
			return nil, false, fmt.Errorf("%w: internal node below maximum depth", ErrCorrupted)
		}
		idx := nibs[depth]
		childPath := path + string([]byte{idx})
		child := n.Children[idx]
		if child == nil {
			if blob == nil {
				return n, false, nil
			}
			leaf := &LeafNode{
				KeyHash:   keyHash,
				ValueHash: ValueHash(blob),
				Blob:      append([]byte(nil), blob...),
			}
			leafKey := NodeKey{Version: version, Path: childPath}
			batch.Nodes[leafKey] = leaf
			replacement := n.clone()
			replacement.Children[idx] = &Child{Hash: leaf.Hash(), Key: leafKey}
			batch.markStale(version, nodeKey, n)
			batch.Nodes[NodeKey{Version: version, Path: path}] = replacement
			return replacement, true, nil
		}
		childNode, err := t.nodeAt(batch, child.Key)
		if err != nil {
			return nil, false, err
		}
		if childNode == nil {
			return nil, false, fmt.Errorf("%w: missing node %s", ErrCorrupted, child.Key)
		}
		newChild, changed, err := t.applyUpdate(batch, version, childNode, child.Key, childPath, nibs, keyHash, blob)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return n, false, nil
		}
		replacement := n.clone()
		if _, isNull := newChild.(*NullNode); isNull {
			replacement.Children[idx] = nil
		} else {
			replacement.Children[idx] = &Child{
				Hash: newChild.Hash(),
				Key:  NodeKey{Version: version, Path: childPath},
			}
		}
		batch.markStale(version, nodeKey, n)
		return t.collapse(batch, version, path, replacement)

	default:
		return nil, false, fmt.Errorf("%w: unexpected node type %T", ErrCorrupted, node)
	}
}

// splitLeaf replaces a leaf with the internal-node chain covering the shared
// nibble prefix of the old and new key hashes, ending in a branch that holds
// both leaves.
func (t *Trie) splitLeaf(batch *MutationBatch, version uint64, path string, old *LeafNode, oldKey NodeKey, nibs []byte, keyHash common.Hash, blob []byte) (Node, bool, error) {
	oldNibs := hashNibbles(old.KeyHash)
	depth := len(path)
	fork := depth
	for fork < len(nibs) && oldNibs[fork] == nibs[fork] {
		fork++
	}
	if fork >= len(nibs) {
		return nil, false, fmt.Errorf("%w: leaf key hash collision at %x", ErrCorrupted, keyHash)
	}

	batch.markStale(version, oldKey, old)

	// Both leaves move below the fork point.
	oldLeafKey := NodeKey{Version: version, Path: string(oldNibs[:fork+1])}
	batch.Nodes[oldLeafKey] = old
	newLeaf := &LeafNode{
		KeyHash:   keyHash,
		ValueHash: ValueHash(blob),
		Blob:      append([]byte(nil), blob...),
	}
	newLeafKey := NodeKey{Version: version, Path: string(nibs[:fork+1])}
	batch.Nodes[newLeafKey] = newLeaf

	branch := &InternalNode{}
	branch.Children[oldNibs[fork]] = &Child{Hash: old.Hash(), Key: oldLeafKey}
	branch.Children[nibs[fork]] = &Child{Hash: newLeaf.Hash(), Key: newLeafKey}
	node := Node(branch)

	// Single-child internals for the shared prefix between depth and fork.
	for level := fork; level > depth; level-- {
		levelPath := string(nibs[:level])
		childKey := NodeKey{Version: version, Path: levelPath}
		batch.Nodes[childKey] = node
		parent := &InternalNode{}
		parent.Children[nibs[level-1]] = &Child{Hash: node.Hash(), Key: childKey}
		node = parent
	}
	batch.Nodes[NodeKey{Version: version, Path: path}] = node
	return node, true, nil
}

// collapse enforces the empty-subtree invariant after a removal: an internal
// node left with no children becomes Null, and one left with a single leaf
// child is replaced by that leaf, re-keyed at the shorter path. A single
// remaining internal child stays where it is.
func (t *Trie) collapse(batch *MutationBatch, version uint64, path string, node *InternalNode) (Node, bool, error) {
	switch node.childCount() {
	case 0:
		delete(batch.Nodes, NodeKey{Version: version, Path: path})
		return &NullNode{}, true, nil
	case 1:
		var only *Child
		for _, c := range node.Children {
			if c != nil {
				only = c
				break
			}
		}
		childNode, err := t.nodeAt(batch, only.Key)
		if err != nil {
			return nil, false, err
		}
		if childNode == nil {
			return nil, false, fmt.Errorf("%w: missing node %s", ErrCorrupted, only.Key)
		}
		leaf, isLeaf := childNode.(*LeafNode)
		if !isLeaf {
			break
		}
		batch.markStale(version, only.Key, leaf)
		if only.Key.Version == version {
			delete(batch.Nodes, only.Key)
		}
		batch.Nodes[NodeKey{Version: version, Path: path}] = leaf
		return leaf, true, nil
	}
	batch.Nodes[NodeKey{Version: version, Path: path}] = node
	return node, true, nil
}
