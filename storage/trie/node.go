package trie

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Node variant tags used as the first byte of every encoded node.
const (
	tagNull byte = iota
	tagInternal
	tagLeaf
)

const branchWidth = 16

// NodeKey uniquely identifies one physical trie node: the version the node
// was created at plus its position in the trie. Path holds one nibble per
// byte (values 0x0-0xf) so NodeKey is comparable and usable as a map key.
// Node keys are immutable once written; updates always mint new keys at the
// new version.
type NodeKey struct {
	Version uint64
	Path    string
}

// RootKey returns the node key of the root node at the given version.
func RootKey(version uint64) NodeKey {
	return NodeKey{Version: version}
}

// Bytes returns the canonical storage encoding of the node key: 8-byte
// big-endian version, nibble count, packed nibbles.
func (k NodeKey) Bytes() []byte {
	out := make([]byte, 9, 9+(len(k.Path)+1)/2)
	binary.BigEndian.PutUint64(out, k.Version)
	out[8] = byte(len(k.Path))
	return append(out, packNibbles(k.Path)...)
}

// DecodeNodeKey parses the canonical encoding produced by Bytes.
func DecodeNodeKey(data []byte) (NodeKey, error) {
	if len(data) < 9 {
		return NodeKey{}, fmt.Errorf("node key too short: %d bytes", len(data))
	}
	count := int(data[8])
	path, err := unpackNibbles(data[9:], count)
	if err != nil {
		return NodeKey{}, err
	}
	return NodeKey{
		Version: binary.BigEndian.Uint64(data),
		Path:    path,
	}, nil
}

func (k NodeKey) String() string {
	return fmt.Sprintf("v%d:%x", k.Version, packNibbles(k.Path))
}

func packNibbles(path string) []byte {
	packed := make([]byte, (len(path)+1)/2)
	for i := 0; i < len(path); i++ {
		if i%2 == 0 {
			packed[i/2] = path[i] << 4
		} else {
			packed[i/2] |= path[i]
		}
	}
	return packed
}

func unpackNibbles(data []byte, count int) (string, error) {
	if len(data) < (count+1)/2 {
		return "", fmt.Errorf("nibble path truncated: want %d nibbles, have %d bytes", count, len(data))
	}
	out := make([]byte, count)
	for i := 0; i < count; i++ {
		if i%2 == 0 {
			out[i] = data[i/2] >> 4
		} else {
			out[i] = data[i/2] & 0x0f
		}
	}
	return string(out), nil
}

// hashNibbles expands a 32-byte hash into its 64 nibbles, most significant
// first, matching the trie's traversal order.
func hashNibbles(h common.Hash) []byte {
	out := make([]byte, 2*common.HashLength)
	for i, b := range h {
		out[2*i] = b >> 4
		out[2*i+1] = b & 0x0f
	}
	return out
}

// Node is one of three variants: Internal, Leaf or Null. Node hashes are a
// pure function of the key/blob content below the node, never of node keys
// or versions, which gives identical roots for identical state regardless
// of insertion history.
type Node interface {
	Hash() common.Hash
}

// NullNode marks an empty subtree. It is only ever persisted as the root of
// an empty trie; empty positions below internal nodes are nil child slots.
type NullNode struct{}

var nullNodeHash = crypto.Keccak256Hash([]byte{tagNull})

// NullHash is the root hash of an empty trie.
func NullHash() common.Hash {
	return nullNodeHash
}

func (*NullNode) Hash() common.Hash {
	return nullNodeHash
}

// Child references one subtree of an internal node. The hash is embedded so
// the parent can be hashed, and proofs constructed, without extra reads.
type Child struct {
	Hash common.Hash
	Key  NodeKey
}

// InternalNode is a sparse 16-way branch. A nil slot means the subtree is
// empty.
type InternalNode struct {
	Children [branchWidth]*Child
}

func (n *InternalNode) Hash() common.Hash {
	var hashes [branchWidth]common.Hash
	for i, c := range n.Children {
		if c == nil {
			hashes[i] = nullNodeHash
		} else {
			hashes[i] = c.Hash
		}
	}
	return internalHash(hashes)
}

func internalHash(children [branchWidth]common.Hash) common.Hash {
	buf := make([]byte, 0, 1+branchWidth*common.HashLength)
	buf = append(buf, tagInternal)
	for i := range children {
		buf = append(buf, children[i][:]...)
	}
	return crypto.Keccak256Hash(buf)
}

// childCount reports the number of occupied slots.
func (n *InternalNode) childCount() int {
	count := 0
	for _, c := range n.Children {
		if c != nil {
			count++
		}
	}
	return count
}

// clone returns a copy of the node suitable for copy-on-write mutation.
func (n *InternalNode) clone() *InternalNode {
	out := &InternalNode{}
	out.Children = n.Children
	return out
}

// LeafNode binds a full key hash to its value blob. ValueHash is the BLAKE3
// digest of the blob; the leaf hash commits to key and value hashes only, so
// blobs can be checked independently of node placement.
type LeafNode struct {
	KeyHash   common.Hash
	ValueHash common.Hash
	Blob      []byte
}

func (n *LeafNode) Hash() common.Hash {
	return leafHash(n.KeyHash, n.ValueHash)
}

func leafHash(keyHash, valueHash common.Hash) common.Hash {
	buf := make([]byte, 0, 1+2*common.HashLength)
	buf = append(buf, tagLeaf)
	buf = append(buf, keyHash[:]...)
	buf = append(buf, valueHash[:]...)
	return crypto.Keccak256Hash(buf)
}

// Wire forms. Nodes are RLP-encoded behind a one-byte variant tag; RLP keeps
// the encoding deterministic, which the root-hash determinism invariant
// relies on.

type childWire struct {
	Index uint8
	Hash  common.Hash
	Key   []byte
}

type internalWire struct {
	Children []childWire
}

type leafWire struct {
	KeyHash   common.Hash
	ValueHash common.Hash
	Blob      []byte
}

// EncodeNode serializes a node into its canonical byte form.
func EncodeNode(n Node) ([]byte, error) {
	switch v := n.(type) {
	case *NullNode:
		return []byte{tagNull}, nil
	case *InternalNode:
		wire := internalWire{}
		for i, c := range v.Children {
			if c == nil {
				continue
			}
			wire.Children = append(wire.Children, childWire{
				Index: uint8(i),
				Hash:  c.Hash,
				Key:   c.Key.Bytes(),
			})
		}
		payload, err := rlp.EncodeToBytes(wire)
		if err != nil {
			return nil, err
		}
		return append([]byte{tagInternal}, payload...), nil
	case *LeafNode:
		payload, err := rlp.EncodeToBytes(leafWire{
			KeyHash:   v.KeyHash,
			ValueHash: v.ValueHash,
			Blob:      v.Blob,
		})
		if err != nil {
			return nil, err
		}
		return append([]byte{tagLeaf}, payload...), nil
	default:
		return nil, fmt.Errorf("unknown node type %T", n)
	}
}

// DecodeNode parses the canonical byte form back into a node.
func DecodeNode(data []byte) (Node, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty node encoding")
	}
	switch data[0] {
	case tagNull:
		if len(data) != 1 {
			return nil, fmt.Errorf("null node with trailing data")
		}
		return &NullNode{}, nil
	case tagInternal:
		var wire internalWire
		if err := rlp.DecodeBytes(data[1:], &wire); err != nil {
			return nil, err
		}
		node := &InternalNode{}
		for _, c := range wire.Children {
			if int(c.Index) >= branchWidth {
				return nil, fmt.Errorf("child index %d out of range", c.Index)
			}
			if node.Children[c.Index] != nil {
				return nil, fmt.Errorf("duplicate child index %d", c.Index)
			}
			key, err := DecodeNodeKey(c.Key)
			if err != nil {
				return nil, err
			}
			node.Children[c.Index] = &Child{Hash: c.Hash, Key: key}
		}
		return node, nil
	case tagLeaf:
		var wire leafWire
		if err := rlp.DecodeBytes(data[1:], &wire); err != nil {
			return nil, err
		}
		return &LeafNode{
			KeyHash:   wire.KeyHash,
			ValueHash: wire.ValueHash,
			Blob:      wire.Blob,
		}, nil
	default:
		return nil, fmt.Errorf("unknown node tag 0x%02x", data[0])
	}
}
