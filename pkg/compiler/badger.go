package compiler

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/fortiblox/gpgpu-rt/internal/types"
)

// prefixBuild namespaces cache entries in the badger keyspace.
var prefixBuild = []byte("build/")

// BadgerStore is a Store backed by a badger database.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens a badger cache in dir, or in memory when inMemory
// is set.
func OpenBadgerStore(dir string, inMemory, syncWrites bool) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.
		WithSyncWrites(syncWrites && !inMemory).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func buildKey(key types.ContentID) []byte {
	return append(append([]byte(nil), prefixBuild...), key.Bytes()...)
}

// Get implements Store.
func (s *BadgerStore) Get(key types.ContentID) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(buildKey(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Put implements Store.
func (s *BadgerStore) Put(key types.ContentID, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(buildKey(key), value)
	})
}

// Delete implements Store.
func (s *BadgerStore) Delete(key types.ContentID) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(buildKey(key))
	})
}

// Len implements Store.
func (s *BadgerStore) Len() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefixBuild
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
