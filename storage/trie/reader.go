package trie

import (
	"errors"
	"fmt"

	"stratachain/storage"
)

var (
	// ErrCorrupted signals that the store violated its integrity contract:
	// a referenced node is missing, fails to decode, or sits at a position
	// its key hash does not match. It is fatal and never downgraded to an
	// "absent key" result.
	ErrCorrupted = errors.New("trie: store corrupted")

	// ErrNotSupported is returned for operations that exist only for
	// restoring a node from a remote snapshot, which this store does not
	// implement.
	ErrNotSupported = errors.New("trie: operation not supported")
)

// NodeReader looks up physical trie nodes by node key. GetNode returns
// (nil, nil) when the key is unknown; deciding whether an unknown key is a
// legitimate miss or corruption is the traversing caller's job.
type NodeReader interface {
	GetNode(key NodeKey) (Node, error)
}

// StoreReader adapts the raw store's node column into trie-node lookups.
type StoreReader struct {
	db storage.Database
}

func NewStoreReader(db storage.Database) *StoreReader {
	return &StoreReader{db: db}
}

func (r *StoreReader) GetNode(key NodeKey) (Node, error) {
	raw, err := r.db.Get(storage.ColumnNode, key.Bytes())
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	node, err := DecodeNode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding node %s: %v", ErrCorrupted, key, err)
	}
	return node, nil
}

// RightmostLeaf would locate the leaf with the greatest key hash at a
// version. It exists only to resume state sync from a remote snapshot and is
// deliberately unimplemented.
func (r *StoreReader) RightmostLeaf(version uint64) (*LeafNode, error) {
	return nil, fmt.Errorf("%w: rightmost leaf lookup", ErrNotSupported)
}
