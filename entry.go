package raft

// EntryValue is the payload of a LogEntry: either a host command issued by
// a client, or a no-value marker the leader appends once per term on
// assuming leadership (see spec §4.3/§4.6, the "no-op on leader election").
type EntryValue struct {
	NoOp    bool
	Command any
}

// CommandValue wraps a host command for a log entry.
func CommandValue(cmd any) EntryValue { return EntryValue{Command: cmd} }

// NoOpValue is the leader-affirmation marker value.
func NoOpValue() EntryValue { return EntryValue{NoOp: true} }

// LogEntry is one slot in the replicated log.
//
// Entries have strictly increasing indices; for any two logs that both
// contain an entry at the same (Index, Term), the prefixes up to that entry
// must be identical (Log Matching, spec §3/§8.3).
type LogEntry struct {
	Index  Index
	Term   Term
	Issuer ClientId // empty for leader-issued no-value entries
	Value  EntryValue
}
