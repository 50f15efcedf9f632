package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"stratachain/core/types"
	"stratachain/observability/metrics"
	"stratachain/storage"
	"stratachain/storage/trie"
)

// CommitStats reports what one flush persisted.
type CommitStats struct {
	Version     uint64
	Root        common.Hash
	NewNodes    int
	StaleNodes  int
	NewLeaves   int
	StaleLeaves int
}

// CommitError wraps a failed atomic batch write. It is fatal for the block:
// nothing was applied (atomicity is the store's contract), and the whole
// block must be retried by the surrounding pipeline rather than repaired in
// place.
type CommitError struct {
	Version uint64
	Err     error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("state: commit of version %d failed: %v", e.Version, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

func versionKey(version uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, version)
	return key
}

// Flush converts the buffer's staged changes into the trie mutation for the
// given version and persists it: new nodes into the node column, the stale
// index into the stale-node column, the new root hash into the root column,
// plus any caller-supplied unrelated chain-state operations, all in one
// atomic batch. Flush is invoked exactly once per block; the buffer must
// have been built over version-1 (or earlier) reads.
func Flush(db storage.Database, tr *trie.Trie, version uint64, buf *Buffer[common.Address, *types.StakedState], extra *storage.Batch) (CommitStats, error) {
	start := time.Now()

	updates, err := buf.Drain()
	if err != nil {
		return CommitStats{}, err
	}
	blobSet := make([]trie.BlobUpdate, 0, len(updates))
	for _, u := range updates {
		var blob []byte
		if !u.Remove {
			if blob, err = u.Value.EncodeBlob(); err != nil {
				return CommitStats{}, fmt.Errorf("state: encoding blob for %x: %w", u.Key, err)
			}
		}
		blobSet = append(blobSet, trie.BlobUpdate{
			KeyHash: types.StakingKeyHash(u.Key),
			Blob:    blob,
		})
	}

	roots, mutation, err := tr.PutBlobSets([][]trie.BlobUpdate{blobSet}, version-1)
	if err != nil {
		return CommitStats{}, err
	}
	root := roots[0]

	batch := storage.NewBatch()
	for _, nodeKey := range mutation.SortedNodeKeys() {
		encoded, err := trie.EncodeNode(mutation.Nodes[nodeKey])
		if err != nil {
			return CommitStats{}, fmt.Errorf("state: encoding node %s: %w", nodeKey, err)
		}
		batch.Put(storage.ColumnNode, nodeKey.Bytes(), encoded)
	}
	staleKeys := mutation.StaleAt(version)
	encodedIndex, err := encodeStaleIndex(staleKeys)
	if err != nil {
		return CommitStats{}, err
	}
	batch.Put(storage.ColumnStaleNode, versionKey(version), encodedIndex)
	batch.Put(storage.ColumnRoot, versionKey(version), root.Bytes())
	batch.Append(extra)

	if err := db.Write(batch); err != nil {
		return CommitStats{}, &CommitError{Version: version, Err: err}
	}

	stats := CommitStats{
		Version:     version,
		Root:        root,
		NewNodes:    len(mutation.Nodes),
		StaleNodes:  len(staleKeys),
		NewLeaves:   mutation.NewLeaves(),
		StaleLeaves: mutation.StaleLeaves(),
	}
	metrics.State().ObserveFlush(stats.NewNodes, stats.StaleNodes, time.Since(start))
	slog.Info("state flushed",
		"version", stats.Version,
		"root", stats.Root,
		"new_nodes", stats.NewNodes,
		"stale_nodes", stats.StaleNodes,
		"new_leaves", stats.NewLeaves,
		"stale_leaves", stats.StaleLeaves,
	)
	return stats, nil
}

func encodeStaleIndex(keys []trie.NodeKey) ([]byte, error) {
	encoded := make([][]byte, len(keys))
	for i, key := range keys {
		encoded[i] = key.Bytes()
	}
	return rlp.EncodeToBytes(encoded)
}

// StaleIndexAt reads back the stale-node index recorded for a version.
func StaleIndexAt(db storage.Database, version uint64) ([]trie.NodeKey, error) {
	raw, err := db.Get(storage.ColumnStaleNode, versionKey(version))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: version %d", trie.ErrVersionNotFound, version)
	}
	if err != nil {
		return nil, err
	}
	var encoded [][]byte
	if err := rlp.DecodeBytes(raw, &encoded); err != nil {
		return nil, fmt.Errorf("%w: stale index for version %d: %v", trie.ErrCorrupted, version, err)
	}
	keys := make([]trie.NodeKey, len(encoded))
	for i, enc := range encoded {
		if keys[i], err = trie.DecodeNodeKey(enc); err != nil {
			return nil, fmt.Errorf("%w: stale index for version %d: %v", trie.ErrCorrupted, version, err)
		}
	}
	return keys, nil
}

// RootAt reads back the published root hash for a version.
func RootAt(db storage.Database, version uint64) (common.Hash, error) {
	raw, err := db.Get(storage.ColumnRoot, versionKey(version))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return common.Hash{}, fmt.Errorf("%w: version %d", trie.ErrVersionNotFound, version)
	}
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(raw), nil
}
