package compiler

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/gpgpu-rt/internal/types"
)

// Bucket names.
var (
	bucketBuilds = []byte("builds")
	bucketMeta   = []byte("meta")
)

// Metadata keys.
var keyFormat = []byte("format")

// storeFormat is bumped whenever the entry encoding changes; a store
// written with another format is emptied on open.
var storeFormat = []byte("gpgpu-rt/build-cache/1")

// BoltStore is a Store backed by a bbolt database file.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore creates or opens a bolt cache at path.
func OpenBoltStore(path string, noSync bool) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 5 * time.Second,
		NoSync:  noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &BoltStore{db: db}
	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}
	return s, nil
}

// initBuckets creates the buckets and drops entries of another format.
func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketMeta, err)
		}
		if v := meta.Get(keyFormat); v != nil && !bytes.Equal(v, storeFormat) {
			if err := tx.DeleteBucket(bucketBuilds); err != nil && err != bolt.ErrBucketNotFound {
				return fmt.Errorf("drop stale entries: %w", err)
			}
		}
		if err := meta.Put(keyFormat, storeFormat); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketBuilds); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketBuilds, err)
		}
		return nil
	})
}

// Get implements Store.
func (s *BoltStore) Get(key types.ContentID) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketBuilds).Get(key.Bytes()); v != nil {
			// v is only valid inside the transaction.
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, value != nil, nil
}

// Put implements Store.
func (s *BoltStore) Put(key types.ContentID, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBuilds).Put(key.Bytes(), value)
	})
}

// Delete implements Store.
func (s *BoltStore) Delete(key types.ContentID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBuilds).Delete(key.Bytes())
	})
}

// Len implements Store.
func (s *BoltStore) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketBuilds).Stats().KeyN
		return nil
	})
	return n, err
}

// Close implements Store.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
