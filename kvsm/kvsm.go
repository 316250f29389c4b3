// Package kvsm is a reference RSM (raft.RSM) for the raft package: an
// in-memory integer-valued key/value store. It exists to exercise the
// commit-and-apply pipeline (spec §4.5) in tests and examples; production
// hosts supply their own RSM with their own command set (spec §6 leaves
// the host command type out of scope).
//
// Grounded on Konstantsiy-casual-raft's state-machine/command.go cmdKind
// enum, extended with Incr per spec §8 scenarios 3 and 4.
package kvsm

import (
	"context"
	"fmt"
)

type cmdKind uint8

const (
	CmdSet cmdKind = iota
	CmdIncr
)

// Command is the command value kvsm expects inside a committed LogEntry's
// EntryValue.Command.
type Command struct {
	Kind  cmdKind
	Key   string
	Value int64 // meaningful for CmdSet only
}

func Set(key string, value int64) Command { return Command{Kind: CmdSet, Key: key, Value: value} }
func Incr(key string) Command             { return Command{Kind: CmdIncr, Key: key} }

// State is the RSM's snapshot type: a map from key to current integer
// value. Apply never mutates the map it is given; it returns a fresh one,
// matching the value-copy discipline the raft engine relies on for its own
// NodeState variants.
type State map[string]int64

// StateMachine applies kvsm.Command values in commit order. It carries no
// internal lock: the driver applies one command at a time from the
// commit-and-apply pipeline (spec §4.5), never concurrently.
type StateMachine struct{}

func New() *StateMachine { return &StateMachine{} }

// Apply implements raft.RSM. cmd must be a Command; any other type is a
// programming error in the host wiring and returns an error rather than
// panicking, since raft.RSM errors halt application and are reported
// (spec §4.6 "RSM error").
func (StateMachine) Apply(_ context.Context, state any, cmd any) (any, error) {
	prev, _ := state.(State)
	next := make(State, len(prev)+1)
	for k, v := range prev {
		next[k] = v
	}

	c, ok := cmd.(Command)
	if !ok {
		return state, fmt.Errorf("kvsm: unexpected command type %T", cmd)
	}

	switch c.Kind {
	case CmdSet:
		next[c.Key] = c.Value
	case CmdIncr:
		next[c.Key] = next[c.Key] + 1
	default:
		return state, fmt.Errorf("kvsm: unknown command kind %d", c.Kind)
	}

	return next, nil
}
