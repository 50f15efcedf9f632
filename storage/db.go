package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
)

// Column identifies one logical keyspace inside the store. The trie engine
// needs the node and stale-node columns; the root column records the
// published root hash per version, and the meta column is free for callers
// to persist unrelated chain state in the same atomic batch.
type Column byte

const (
	ColumnNode Column = iota
	ColumnStaleNode
	ColumnRoot
	ColumnMeta

	columnCount
)

func (c Column) String() string {
	switch c {
	case ColumnNode:
		return "node"
	case ColumnStaleNode:
		return "stale-node"
	case ColumnRoot:
		return "root"
	case ColumnMeta:
		return "meta"
	default:
		return fmt.Sprintf("column(%d)", byte(c))
	}
}

// ErrKeyNotFound is returned by Get when no value exists for the key.
var ErrKeyNotFound = errors.New("storage: key not found")

// Database is a column-addressed key-value store. Implementations must apply
// a Batch atomically: after a crash either every operation in the batch is
// visible or none are.
type Database interface {
	Get(col Column, key []byte) ([]byte, error)
	Put(col Column, key []byte, value []byte) error
	Write(batch *Batch) error
	Close() error
}

type batchOp struct {
	col    Column
	key    []byte
	value  []byte
	delete bool
}

// Batch collects writes and deletes across columns for one atomic commit.
type Batch struct {
	ops []batchOp
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Put(col Column, key, value []byte) {
	b.ops = append(b.ops, batchOp{
		col:   col,
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
}

func (b *Batch) Delete(col Column, key []byte) {
	b.ops = append(b.ops, batchOp{
		col:    col,
		key:    append([]byte(nil), key...),
		delete: true,
	})
}

// Len reports the number of operations queued in the batch.
func (b *Batch) Len() int {
	return len(b.ops)
}

// Append copies every operation of other into b.
func (b *Batch) Append(other *Batch) {
	if other == nil {
		return
	}
	b.ops = append(b.ops, other.ops...)
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu   sync.RWMutex
	data [columnCount]map[string][]byte
}

func NewMemDB() *MemDB {
	db := &MemDB{}
	for i := range db.data {
		db.data[i] = make(map[string][]byte)
	}
	return db
}

func (db *MemDB) Get(col Column, key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[col][string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), value...), nil
}

func (db *MemDB) Put(col Column, key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[col][string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *MemDB) Write(batch *Batch) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, op := range batch.ops {
		if op.delete {
			delete(db.data[op.col], string(op.key))
			continue
		}
		db.data[op.col][string(op.key)] = op.value
	}
	return nil
}

func (db *MemDB) Close() error {
	return nil
}

// --- Persistent DB (LevelDB) ---

// LevelDB is a persistent store backed by goleveldb. Columns map to a
// one-byte key prefix; Write uses leveldb's write batch, which is atomic.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func levelKey(col Column, key []byte) []byte {
	out := make([]byte, 1+len(key))
	out[0] = byte(col)
	copy(out[1:], key)
	return out
}

func (ldb *LevelDB) Get(col Column, key []byte) ([]byte, error) {
	value, err := ldb.db.Get(levelKey(col, key), nil)
	if errors.Is(err, ldberrors.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	return value, err
}

func (ldb *LevelDB) Put(col Column, key []byte, value []byte) error {
	return ldb.db.Put(levelKey(col, key), value, nil)
}

func (ldb *LevelDB) Write(batch *Batch) error {
	wb := new(leveldb.Batch)
	for _, op := range batch.ops {
		if op.delete {
			wb.Delete(levelKey(op.col, op.key))
			continue
		}
		wb.Put(levelKey(op.col, op.key), op.value)
	}
	return ldb.db.Write(wb, nil)
}

func (ldb *LevelDB) Close() error {
	return ldb.db.Close()
}
