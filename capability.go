package raft

import "context"

// LogStore is the durable log collaborator the engine never touches
// directly — all mutation happens via emitted AppendLogEntriesAction
// values; a driver executes those against its own LogStore (spec §4.7).
type LogStore interface {
	WriteLogEntries(ctx context.Context, entries []LogEntry) error
	ReadLogEntry(ctx context.Context, index Index) (LogEntry, bool, error)
	ReadLastLogEntry(ctx context.Context) (LogEntry, bool, error)
	DeleteLogEntriesFrom(ctx context.Context, index Index) error
}

// RSM is the host's deterministic replicated state machine (spec §6,
// "applyCommand"). The core never interprets cmd; it only ever forwards the
// EntryValue.Command payload of committed entries to Apply in order.
type RSM interface {
	Apply(ctx context.Context, state any, cmd any) (any, error)
}

// Transport is the host's message-delivery collaborator (spec §4.9). The
// engine never touches a socket or goroutine directly; it only ever emits
// SendRPCAction/BroadcastRPCAction for a driver to execute against whatever
// Transport it configures.
type Transport interface {
	SendRPC(ctx context.Context, to NodeId, rpc any) error
	BroadcastRPC(ctx context.Context, to []NodeId, rpc any) error
}

// Config is a node's static, read-only configuration (spec §6). Timing
// settings (election/heartbeat intervals) live only on the driver side
// (driver.Config), since the pure engine never reads a clock itself — it
// only reacts to TimeoutEvent values a driver's timers produce.
type Config struct {
	SelfId  NodeId
	PeerIds []NodeId // includes SelfId
}

// Peers returns every cluster member other than SelfId.
func (c Config) Peers() []NodeId {
	out := make([]NodeId, 0, len(c.PeerIds))
	for _, id := range c.PeerIds {
		if id != c.SelfId {
			out = append(out, id)
		}
	}
	return out
}

// ClusterSize returns the total number of cluster members, self included.
func (c Config) ClusterSize() int { return len(c.PeerIds) }

// TransitionEnv carries read-only, pre-computed log/RSM snapshots a
// particular event's handling needs, so handleEvent itself stays a pure
// function of its arguments (spec §4.1, §4.7, §9). The driver is
// responsible for populating the fields the upcoming event requires (the
// reference driver does so in driver.buildEnv and
// driver.annotateAppendEntries); irrelevant fields are left at their zero
// value.
type TransitionEnv struct {
	Config Config

	// LastLogIndex/LastLogTerm describe the tail of the node's log as of
	// just before this event; needed for RequestVote's up-to-date check,
	// for placing a new leader's no-op entry, and for a follower's
	// rejection reply. An established leader's write path uses its own
	// cached LeaderState.LastLogIndex instead.
	LastLogIndex Index
	LastLogTerm  Term

	// PrevEntryTerm is the term of the log entry at an incoming
	// AppendEntries' PrevLogIndex, if one exists; nil if the follower has
	// no entry there at all.
	PrevEntryTerm *Term

	// ExistingEntries holds whatever entries the node's log currently has
	// in the index range covered by an incoming AppendEntries' Entries,
	// used to detect conflicts before truncating (spec §4.2).
	ExistingEntries []LogEntry

	// LogTail holds every log entry from index 1 through LastLogIndex,
	// contiguous. The leader uses it to (a) verify the current-term
	// commit rule at an arbitrary candidate commit index and (b) build a
	// catch-up AppendEntries for a peer whose nextIndex has fallen
	// arbitrarily far behind. Safe to require in full because this
	// design has no log compaction (spec Non-goals); a future
	// snapshotting extension would replace this with a bounded window
	// plus an InstallSnapshot action.
	LogTail []LogEntry

	// RSMSnapshot is the current applied state of the host RSM, used to
	// answer a confirmed linearizable read.
	RSMSnapshot any
}
