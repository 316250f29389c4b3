// Package raft implements the pure, deterministic transition function at
// the heart of the Raft consensus protocol: given a node's current state,
// its static configuration, a read-only snapshot of whatever log/RSM data
// the event needs, and one Event, it returns the node's new state plus the
// list of effects (Actions) a driver must perform.
//
// Nothing in this package touches a network, a disk, a clock, or a logging
// backend. Those are collaborators a driver supplies; see raft/driver for
// a reference implementation, and raft/memstore, raft/boltstore, raft/kvsm,
// raft/transport for reference capabilities.
package raft

// HandleEvent is the engine's single pure operation (spec §4.1):
//
//	handleEvent(nodeState, env, persistentState, event)
//	  → (nodeState', persistentState', []Action, []LogMsg)
//
// It never performs I/O and never panics on well-formed input; a bug
// causing an invariant violation (e.g. an unrecognized NodeState variant)
// is the one case where it panics, since that can only come from the
// driver misusing the API, not from network input.
func HandleEvent(state NodeState, env TransitionEnv, persisted PersistentState, ev Event) (NodeState, PersistentState, []Action, []LogMsg) {
	state, persisted, preLogs := applyHigherTermRule(state, persisted, ev)

	var nextState NodeState
	var nextPersisted PersistentState
	var actions []Action
	var logs []LogMsg

	switch s := state.(type) {
	case FollowerState:
		nextState, nextPersisted, actions, logs = handleFollowerEvent(s, env, persisted, ev)
	case CandidateState:
		nextState, nextPersisted, actions, logs = handleCandidateEvent(s, env, persisted, ev)
	case LeaderState:
		nextState, nextPersisted, actions, logs = handleLeaderEvent(s, env, persisted, ev)
	default:
		panic("raft: unknown NodeState variant")
	}

	return nextState, nextPersisted, actions, append(preLogs, logs...)
}

// applyHigherTermRule implements spec §4.1's universal pre-transition rule:
// any RPC (request or response) bearing a term greater than currentTerm
// immediately advances currentTerm, clears votedFor, and demotes the node
// to Follower — before any role-specific handling runs, and regardless of
// whether that role-specific handling would otherwise reject the message.
func applyHigherTermRule(state NodeState, persisted PersistentState, ev Event) (NodeState, PersistentState, []LogMsg) {
	msg, ok := ev.(MessageEvent)
	if !ok {
		return state, persisted, nil
	}

	term, ok := rpcTerm(msg.RPC)
	if !ok || term <= persisted.CurrentTerm {
		return state, persisted, nil
	}

	if state.Role() == RoleFollower {
		// Already a follower; still must bump the term and clear the
		// vote, but there is no role to demote.
		fs := state.(FollowerState)
		return fs, persisted.WithTerm(term), []LogMsg{
			logMsg(LevelDebug, "term advanced by higher-term RPC", F("term", term)),
		}
	}

	fs := FollowerState{
		CurrentLeader: NoLeader(),
		CommitIndex:   state.CommitIdx(),
		LastApplied:   state.LastAppliedIdx(),
	}
	logs := []LogMsg{
		logMsg(LevelInfo, "stepping down to follower on higher-term RPC",
			F("from", string(state.Role())), F("term", term)),
	}
	return fs, persisted.WithTerm(term), logs
}

// rpcTerm extracts the Term field common to every RPC variant.
func rpcTerm(rpc any) (Term, bool) {
	switch r := rpc.(type) {
	case AppendEntries:
		return r.Term, true
	case AppendEntriesResponse:
		return r.Term, true
	case RequestVote:
		return r.Term, true
	case RequestVoteResponse:
		return r.Term, true
	default:
		return TermNone, false
	}
}
