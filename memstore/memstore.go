// Package memstore is an in-memory raft.LogStore, the reference storage
// backend used by the engine's own tests and by simple in-process drivers.
//
// It is grounded on the teacher's raft/logSvc.go Storage/Logs type: a flat
// slice of entries addressed by index, with the same find/truncate
// arithmetic, adapted to satisfy raft.LogStore instead of being wired
// directly into a channel-driven worker.
package memstore

import (
	"context"
	"sync"

	"github.com/quiverio/raft"
)

// Store is a slice-backed, mutex-guarded raft.LogStore. It also holds the
// node's PersistentState, mirroring boltstore's pairing of log and
// persistent-state storage in one handle, for drivers that don't need
// durability across process restarts (tests, in-process demos).
type Store struct {
	mu      sync.Mutex
	entries []raft.LogEntry // entries[i] has Index == i+1
	ps      raft.PersistentState
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// WriteLogEntries implements raft.LogStore. Per AppendLogEntriesAction's
// contract (raft/action.go), it first truncates any existing suffix at
// entries[0].Index before appending, so a call resolving a log conflict
// and a call merely extending the tail are handled identically.
func (s *Store) WriteLogEntries(_ context.Context, entries []raft.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	firstNew := entries[0].Index
	pos := int(firstNew) - 1
	switch {
	case pos < 0:
		return raft.ErrLogGap
	case pos > len(s.entries):
		return raft.ErrLogGap
	default:
		s.entries = s.entries[:pos]
	}

	for i, e := range entries {
		if e.Index != firstNew+raft.Index(i) {
			return raft.ErrLogGap
		}
	}

	s.entries = append(s.entries, entries...)
	return nil
}

func (s *Store) ReadLogEntry(_ context.Context, index raft.Index) (raft.LogEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := int(index) - 1
	if pos < 0 || pos >= len(s.entries) {
		return raft.LogEntry{}, false, nil
	}
	return s.entries[pos], true, nil
}

func (s *Store) ReadLastLogEntry(_ context.Context) (raft.LogEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		return raft.LogEntry{}, false, nil
	}
	return s.entries[len(s.entries)-1], true, nil
}

func (s *Store) DeleteLogEntriesFrom(_ context.Context, index raft.Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := int(index) - 1
	if pos < 0 {
		s.entries = s.entries[:0]
		return nil
	}
	if pos < len(s.entries) {
		s.entries = s.entries[:pos]
	}
	return nil
}

// Snapshot returns a copy of every entry currently stored, for tests that
// want to assert on log contents directly rather than through the
// capability interface.
func (s *Store) Snapshot() []raft.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]raft.LogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Store) WritePersistentState(ps raft.PersistentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ps = ps
	return nil
}

func (s *Store) ReadPersistentState() raft.PersistentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ps
}
