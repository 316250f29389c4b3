// Package boltstore is a reference raft.LogStore plus persistent-state
// storage backed by github.com/boltdb/bolt, for drivers that need the log
// to survive a process restart.
//
// Grounded on gyuho-db/mvcc/backend's batchTx (bucket creation, Put/Get
// inside a single *bolt.Tx, panic-on-corruption-of-an-invariant style for
// "this bucket must already exist") adapted from etcd's batched-commit
// backend down to a single log store, since this design has no snapshotting
// or background batching concerns competing for the same bucket.
//
// LogEntry.Value.Command is encoded with encoding/json, so a command type
// round-trips through disk as its JSON shape rather than its original Go
// type; a host RSM reading entries back out of a restarted Store should
// re-decode Command into its own concrete type rather than type-asserting
// it directly (the host command type is out of scope, spec §1).
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/boltdb/bolt"

	"github.com/quiverio/raft"
)

var (
	logBucket   = []byte("raft-log")
	stateBucket = []byte("raft-state")
	stateKey    = []byte("persistent")
)

// Store is a bolt-backed raft.LogStore. One Store owns one *bolt.DB file
// and must not be shared across nodes.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) a bolt database at path and ensures both
// buckets this store uses exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(logBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(stateBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: init buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func indexKey(idx raft.Index) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(idx))
	return b
}

// WriteLogEntries implements raft.LogStore. Per AppendLogEntriesAction's
// contract (raft/action.go), it first deletes any entries at or beyond
// entries[0].Index before writing, so this call is idempotent whether or
// not it is resolving a conflicting suffix.
func (s *Store) WriteLogEntries(_ context.Context, entries []raft.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(logBucket)
		if bucket == nil {
			panic("boltstore: log bucket missing, Store was not opened via Open")
		}

		c := bucket.Cursor()
		for k, _ := c.Seek(indexKey(entries[0].Index)); k != nil; k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
		}

		for _, e := range entries {
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := bucket.Put(indexKey(e.Index), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ReadLogEntry(_ context.Context, index raft.Index) (raft.LogEntry, bool, error) {
	var entry raft.LogEntry
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(logBucket)
		data := bucket.Get(indexKey(index))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &entry)
	})
	return entry, found, err
}

func (s *Store) ReadLastLogEntry(_ context.Context) (raft.LogEntry, bool, error) {
	var entry raft.LogEntry
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(logBucket)
		k, v := bucket.Cursor().Last()
		if k == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &entry)
	})
	return entry, found, err
}

func (s *Store) DeleteLogEntriesFrom(_ context.Context, index raft.Index) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(logBucket)
		c := bucket.Cursor()
		for k, _ := c.Seek(indexKey(index)); k != nil; k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadAll returns every log entry in index order, for callers that want the
// whole log at once, such as tests.
func (s *Store) ReadAll(_ context.Context) ([]raft.LogEntry, error) {
	var entries []raft.LogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(logBucket)
		return bucket.ForEach(func(_, v []byte) error {
			var e raft.LogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	return entries, err
}

// WritePersistentState durably persists currentTerm and votedFor (spec
// §4.7 "Persistent state"). A driver calls this before acting on any
// actions returned alongside a PersistentState change.
func (s *Store) WritePersistentState(ps raft.PersistentState) error {
	data, err := json.Marshal(ps)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stateBucket).Put(stateKey, data)
	})
}

func (s *Store) ReadPersistentState() (raft.PersistentState, bool, error) {
	var ps raft.PersistentState
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(stateBucket).Get(stateKey)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &ps)
	})
	return ps, found, err
}
