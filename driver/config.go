package driver

import (
	"time"

	"go.uber.org/zap"

	"github.com/quiverio/raft"
)

// FailurePolicy governs how the driver reacts to a LogStore, RSM, or
// Transport error while executing an action (spec §7). Populated
// programmatically by the embedder — see SPEC_FULL.md §6 on why this
// package carries no config-file loader.
type FailurePolicy int

const (
	// RetryForever logs the error and keeps the node running. A failed
	// term/vote write leaves the node's state as it was; a failed action
	// is not re-executed, and the state the event produced is kept.
	RetryForever FailurePolicy = iota
	// CrashOnError treats any action-execution failure as fatal.
	CrashOnError
)

// Config is a Node's driver-level configuration: raft.Config plus the
// ambient concerns (spec §6 "added": Logger, FailurePolicy) the engine
// itself never sees.
type Config struct {
	Raft raft.Config

	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	HeartbeatInterval  time.Duration
	ApplyTickInterval  time.Duration

	Logger *zap.Logger
	Policy FailurePolicy
}
