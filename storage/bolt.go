package storage

import (
	bolt "go.etcd.io/bbolt"
)

// BoltDB is a persistent store backed by bbolt. Each column gets its own
// bucket; Write applies the whole batch inside a single update transaction,
// so it is atomic by construction.
type BoltDB struct {
	db *bolt.DB
}

// NewBoltDB creates or opens a bbolt database file at the specified path and
// ensures every column bucket exists.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for col := Column(0); col < columnCount; col++ {
			if _, err := tx.CreateBucketIfNotExists([]byte(col.String())); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltDB{db: db}, nil
}

func (bdb *BoltDB) Get(col Column, key []byte) ([]byte, error) {
	var value []byte
	err := bdb.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(col.String())).Get(key)
		if raw == nil {
			return ErrKeyNotFound
		}
		value = append([]byte(nil), raw...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (bdb *BoltDB) Put(col Column, key []byte, value []byte) error {
	return bdb.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(col.String())).Put(key, value)
	})
}

func (bdb *BoltDB) Write(batch *Batch) error {
	return bdb.db.Update(func(tx *bolt.Tx) error {
		for _, op := range batch.ops {
			bucket := tx.Bucket([]byte(op.col.String()))
			if op.delete {
				if err := bucket.Delete(op.key); err != nil {
					return err
				}
				continue
			}
			if err := bucket.Put(op.key, op.value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (bdb *BoltDB) Close() error {
	return bdb.db.Close()
}
