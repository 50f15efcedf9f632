package trie

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestNodeKeyEncodingRoundTrip(t *testing.T) {
	cases := []NodeKey{
		{},
		{Version: 1},
		{Version: 42, Path: string([]byte{0x5})},
		{Version: 42, Path: string([]byte{0x5, 0xa})},
		{Version: 1<<63 + 7, Path: string([]byte{0x0, 0xf, 0x3, 0x9, 0xc})},
	}
	for _, key := range cases {
		decoded, err := DecodeNodeKey(key.Bytes())
		require.NoError(t, err)
		require.Equal(t, key, decoded)
	}
}

func TestDecodeNodeKeyTruncated(t *testing.T) {
	key := NodeKey{Version: 3, Path: string([]byte{0x1, 0x2, 0x3})}
	encoded := key.Bytes()
	_, err := DecodeNodeKey(encoded[:len(encoded)-1])
	require.Error(t, err)
	_, err = DecodeNodeKey(encoded[:4])
	require.Error(t, err)
}

func TestNodeCodecRoundTrip(t *testing.T) {
	leaf := &LeafNode{
		KeyHash:   keyHashOf("account"),
		ValueHash: ValueHash([]byte("blob")),
		Blob:      []byte("blob"),
	}
	internal := &InternalNode{}
	internal.Children[0x3] = &Child{
		Hash: leaf.Hash(),
		Key:  NodeKey{Version: 9, Path: string([]byte{0x3})},
	}
	internal.Children[0xf] = &Child{
		Hash: keyHashOf("sibling"),
		Key:  NodeKey{Version: 2, Path: string([]byte{0xf})},
	}

	for _, node := range []Node{&NullNode{}, leaf, internal} {
		encoded, err := EncodeNode(node)
		require.NoError(t, err)
		decoded, err := DecodeNode(encoded)
		require.NoError(t, err)
		require.Equal(t, node, decoded)
		require.Equal(t, node.Hash(), decoded.Hash())
	}
}

func TestNodeEncodingIsDeterministic(t *testing.T) {
	build := func() Node {
		internal := &InternalNode{}
		for _, idx := range []byte{0xc, 0x1, 0x7} {
			internal.Children[idx] = &Child{
				Hash: keyHashOf(string([]byte{idx})),
				Key:  NodeKey{Version: uint64(idx), Path: string([]byte{idx})},
			}
		}
		return internal
	}
	first, err := EncodeNode(build())
	require.NoError(t, err)
	second, err := EncodeNode(build())
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestDecodeNodeRejectsMalformedInput(t *testing.T) {
	_, err := DecodeNode(nil)
	require.Error(t, err)
	_, err = DecodeNode([]byte{0x7f})
	require.Error(t, err)
	_, err = DecodeNode([]byte{tagNull, 0x00})
	require.Error(t, err)
	_, err = DecodeNode([]byte{tagLeaf, 0xde, 0xad})
	require.Error(t, err)
}

func TestNodeHashIgnoresNodeKeys(t *testing.T) {
	leafKey := NodeKey{Version: 1, Path: string([]byte{0x3})}
	relocated := NodeKey{Version: 8, Path: string([]byte{0x3})}
	hash := keyHashOf("content")

	a := &InternalNode{}
	a.Children[0x3] = &Child{Hash: hash, Key: leafKey}
	b := &InternalNode{}
	b.Children[0x3] = &Child{Hash: hash, Key: relocated}

	require.Equal(t, a.Hash(), b.Hash())
}

func TestHashNibbles(t *testing.T) {
	var h common.Hash
	h[0] = 0xab
	h[31] = 0x1f
	nibs := hashNibbles(h)
	require.Len(t, nibs, 64)
	require.Equal(t, byte(0xa), nibs[0])
	require.Equal(t, byte(0xb), nibs[1])
	require.Equal(t, byte(0x1), nibs[62])
	require.Equal(t, byte(0xf), nibs[63])
}
