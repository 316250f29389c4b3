package driver

import (
	"context"
	"fmt"

	"github.com/quiverio/raft"
)

// buildEnv populates a raft.TransitionEnv by reading store, the one place
// in this package where the engine's read-only data snapshot is actually
// assembled from I/O (spec §4.7: the driver owns this, HandleEvent never
// touches store itself).
func buildEnv(ctx context.Context, cfg raft.Config, store raft.LogStore, rsmSnapshot any) (raft.TransitionEnv, error) {
	env := raft.TransitionEnv{Config: cfg, RSMSnapshot: rsmSnapshot}

	last, found, err := store.ReadLastLogEntry(ctx)
	if err != nil {
		return env, fmt.Errorf("driver: read last log entry: %w", err)
	}
	if found {
		env.LastLogIndex = last.Index
		env.LastLogTerm = last.Term
	}

	tail := make([]raft.LogEntry, 0, env.LastLogIndex)
	for i := raft.Index(1); i <= env.LastLogIndex; i++ {
		entry, ok, err := store.ReadLogEntry(ctx, i)
		if err != nil {
			return env, fmt.Errorf("driver: read log entry %d: %w", i, err)
		}
		if !ok {
			return env, fmt.Errorf("driver: %w at index %d", raft.ErrIndexOutOfRange, i)
		}
		tail = append(tail, entry)
	}
	env.LogTail = tail

	return env, nil
}

// annotateAppendEntries fills in the two TransitionEnv fields that only
// matter for an inbound AppendEntries: PrevEntryTerm and ExistingEntries.
func annotateAppendEntries(ctx context.Context, store raft.LogStore, env raft.TransitionEnv, rpc raft.AppendEntries) (raft.TransitionEnv, error) {
	if rpc.PrevLogIndex != raft.IndexNone {
		entry, ok, err := store.ReadLogEntry(ctx, rpc.PrevLogIndex)
		if err != nil {
			return env, fmt.Errorf("driver: read prev log entry: %w", err)
		}
		if ok {
			term := entry.Term
			env.PrevEntryTerm = &term
		}
	}

	existing := make([]raft.LogEntry, 0, len(rpc.Entries))
	for _, e := range rpc.Entries {
		got, ok, err := store.ReadLogEntry(ctx, e.Index)
		if err != nil {
			return env, fmt.Errorf("driver: read existing entry %d: %w", e.Index, err)
		}
		if ok {
			existing = append(existing, got)
		}
	}
	env.ExistingEntries = existing

	return env, nil
}
