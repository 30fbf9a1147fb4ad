// Package storage provides durable persistence for the position protection
// engine: the set of currently-known positions and the durable retry queue,
// both backed by BoltDB. Every write is a single bbolt transaction, fsync'd
// to disk before Update returns, so the store stays atomic without a
// separate write-temp/rename dance.
package storage

import (
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	positionsBucket  = "positions"
	retryQueueBucket = "retry_queue"
)

// Store provides persistent storage for positions and the retry queue using
// BoltDB.
type Store struct {
	db *bbolt.DB
}

// New opens (creating if absent) the database file under dataPath and
// ensures both buckets exist.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, "positionguard.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(positionsBucket)); err != nil {
			return fmt.Errorf("create positions bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(retryQueueBucket)); err != nil {
			return fmt.Errorf("create retry_queue bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// PositionsBucketName is exported so internal/position can persist and load
// position records through the generic raw API below without this package
// needing to import internal/position (which itself depends on a Store to
// persist through — importing position.Position here would be a cycle).
const PositionsBucketName = positionsBucket

// PutRaw stores an opaque value under the given bucket/key, creating the
// bucket if it does not already exist. Used by internal/retryqueue to persist
// entries without storage needing to know the retry-queue's item shape.
func (s *Store) PutRaw(bucket, key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	})
}

// GetRaw retrieves a value previously stored with PutRaw.
func (s *Store) GetRaw(bucket, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	return value, value != nil, err
}

// DeleteRaw removes a value previously stored with PutRaw.
func (s *Store) DeleteRaw(bucket, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// ForEachRaw iterates every key/value pair in bucket in key order (bbolt's
// native byte-lexicographic cursor order).
func (s *Store) ForEachRaw(bucket string, fn func(key string, value []byte) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

// RetryQueueBucketName is exported so internal/retryqueue can pass it back
// into the raw bucket API without the two packages sharing a constant by
// coincidence of spelling.
const RetryQueueBucketName = retryQueueBucket
