package raft

import "errors"

// Sentinel errors returned by value, never panicked from inside the pure
// engine (spec §7). Collaborator failures (LogStore, RSM) are surfaced as
// plain errors by those interfaces themselves and are not listed here.
var (
	// ErrStaleTerm marks an RPC whose term is behind currentTerm. The
	// protocol treats this as a silent rejection (spec §7), not a
	// user-visible error; callers that want to distinguish "rejected
	// because stale" from other rejections can compare against it.
	ErrStaleTerm = errors.New("raft: stale term")

	// ErrLogGap is returned by a LogStore.WriteLogEntries implementation
	// when asked to append entries whose indices are not contiguous with
	// the existing tail (capability precondition, spec §4.7).
	ErrLogGap = errors.New("raft: log entries are not contiguous with tail")

	// ErrIndexOutOfRange marks a log read that found no entry at an index
	// the log should contain. The reference LogStores report a missing
	// entry as found == false; the reference driver wraps this error when
	// that happens at or below the last log index.
	ErrIndexOutOfRange = errors.New("raft: log index out of range")

	// ErrNotLeader is returned by driver-level APIs that only make sense
	// on a leader: the reference driver's Node.Submit wraps a Redirect
	// response with it.
	ErrNotLeader = errors.New("raft: node is not leader")
)
