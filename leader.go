package raft

import "sort"

// handleLeaderEvent implements spec §4.4. The commit-advancement rule is
// grounded on the teacher's leader.go UpdateCommittedIndex (sort matchIndex
// values, take the middle one, require log[N].term == currentTerm before
// committing), generalized to include the leader's own LastLogIndex in the
// majority computation (the teacher's replicator set excludes self and
// relies on len(peers) always being odd-minus-one; this version works for
// any cluster size, including the single-node case of spec §8).
func handleLeaderEvent(ls LeaderState, env TransitionEnv, ps PersistentState, ev Event) (NodeState, PersistentState, []Action, []LogMsg) {
	switch e := ev.(type) {
	case TimeoutEvent:
		if e.Kind != HeartbeatTimeout {
			return ls, ps, nil, []LogMsg{logMsg(LevelDebug, "leader ignoring election timeout")}
		}
		return leaderHeartbeat(ls, env, ps)

	case MessageEvent:
		switch rpc := e.RPC.(type) {
		case RequestVote:
			return leaderHandleRequestVote(ls, env, ps, rpc)
		case AppendEntries:
			return leaderHandleAppendEntries(ls, ps, rpc)
		case AppendEntriesResponse:
			return leaderHandleAppendEntriesResponse(ls, env, ps, rpc)
		default:
			return ls, ps, nil, []LogMsg{logMsg(LevelDebug, "leader ignoring message")}
		}

	case ClientRequestEvent:
		if e.Request.Kind == RequestRead {
			return leaderHandleClientRead(ls, env, ps, e.Request)
		}
		return leaderHandleClientWrite(ls, env, ps, e.Request)

	case ApplyAdvancedEvent:
		return flushReadyReads(ls, env, ps)
	}
	panic("raft: unhandled event type")
}

// flushReadyReads answers every PendingRead whose heartbeat quorum already
// landed and whose TargetIndex is now covered by LastApplied, using the
// freshly-advanced env.RSMSnapshot (spec §4.4).
func flushReadyReads(ls LeaderState, env TransitionEnv, ps PersistentState) (NodeState, PersistentState, []Action, []LogMsg) {
	var actions []Action
	var logs []LogMsg

	next := ls
	var cloned bool
	for serial, pr := range ls.ReadReqs {
		if !pr.QuorumReached || pr.TargetIndex > ls.LastApplied {
			continue
		}
		if !cloned {
			next = ls.clone()
			cloned = true
		}
		delete(next.ReadReqs, serial)
		actions = append(actions, RespondToClientAction{
			ClientId: pr.ClientId,
			Response: ClientResponse{Kind: ResponseRead, Snapshot: env.RSMSnapshot},
		})
		logs = append(logs, logMsg(LevelDebug, "read released after apply caught up", F("serial", serial)))
	}

	return next, ps, actions, logs
}

func leaderHeartbeat(ls LeaderState, env TransitionEnv, ps PersistentState) (NodeState, PersistentState, []Action, []LogMsg) {
	actions := []Action{
		BroadcastRPCAction{To: env.Config.Peers(), RPC: AppendEntries{
			Term:         ls.Term,
			LeaderId:     env.Config.SelfId,
			PrevLogIndex: ls.LastLogIndex,
			PrevLogTerm:  ls.LastLogTerm,
			LeaderCommit: ls.CommitIndex,
		}},
		ResetTimerAction{Kind: HeartbeatTimeout},
	}
	return ls, ps, actions, []LogMsg{logMsg(LevelDebug, "heartbeat")}
}

func leaderHandleRequestVote(ls LeaderState, env TransitionEnv, ps PersistentState, rpc RequestVote) (NodeState, PersistentState, []Action, []LogMsg) {
	// rpc.Term > ps.CurrentTerm is already handled by the universal rule;
	// anything reaching here has term <= currentTerm and is rejected.
	reject := []Action{SendRPCAction{To: rpc.CandidateId, RPC: RequestVoteResponse{
		Term: ps.CurrentTerm, VoteGranted: false, From: env.Config.SelfId,
	}}}
	return ls, ps, reject, []LogMsg{logMsg(LevelDebug, "RequestVote reject, I am leader this term")}
}

func leaderHandleAppendEntries(ls LeaderState, ps PersistentState, rpc AppendEntries) (NodeState, PersistentState, []Action, []LogMsg) {
	// rpc.Term > ps.CurrentTerm already demoted us before we got here; a
	// rpc.Term == ps.CurrentTerm AppendEntries from another node would
	// violate Election Safety (spec §8.1) and is logged, not acted on.
	return ls, ps, nil, []LogMsg{logMsg(LevelWarn, "AppendEntries from another node claiming the same term", F("term", rpc.Term))}
}

func leaderHandleClientWrite(ls LeaderState, env TransitionEnv, ps PersistentState, req ClientRequest) (NodeState, PersistentState, []Action, []LogMsg) {
	entry := LogEntry{
		Index:  ls.LastLogIndex + 1,
		Term:   ls.Term,
		Issuer: req.ClientId,
		Value:  CommandValue(req.Command),
	}

	next := ls.clone()
	next.PendingWrites[entry.Index] = PendingWrite{ClientId: req.ClientId}
	prevIndex, prevTerm := ls.LastLogIndex, ls.LastLogTerm
	next.LastLogIndex = entry.Index
	next.LastLogTerm = entry.Term

	actions := []Action{
		AppendLogEntriesAction{Entries: []LogEntry{entry}},
		BroadcastRPCAction{To: env.Config.Peers(), RPC: AppendEntries{
			Term:         ls.Term,
			LeaderId:     env.Config.SelfId,
			PrevLogIndex: prevIndex,
			PrevLogTerm:  prevTerm,
			Entries:      []LogEntry{entry},
			LeaderCommit: ls.CommitIndex,
		}},
	}

	next, commitActions, commitLogs := tryAdvanceCommit(next, env)
	actions = append(actions, commitActions...)

	return next, ps, actions, append([]LogMsg{logMsg(LevelDebug, "client write accepted", F("index", entry.Index))}, commitLogs...)
}

func leaderHandleClientRead(ls LeaderState, env TransitionEnv, ps PersistentState, req ClientRequest) (NodeState, PersistentState, []Action, []LogMsg) {
	next := ls.clone()
	serial := next.NextReadSerial
	next.NextReadSerial++
	pr := &PendingRead{ClientId: req.ClientId, Acked: map[NodeId]bool{env.Config.SelfId: true}, TargetIndex: ls.CommitIndex}
	next.ReadReqs[serial] = pr

	if quorumAckedRead(pr, env.Config.ClusterSize()) {
		if pr.TargetIndex <= ls.LastApplied {
			delete(next.ReadReqs, serial)
			resp := RespondToClientAction{ClientId: req.ClientId, Response: ClientResponse{Kind: ResponseRead, Snapshot: env.RSMSnapshot}}
			return next, ps, []Action{resp}, []LogMsg{logMsg(LevelDebug, "read served immediately, quorum of one")}
		}
		pr.QuorumReached = true
		return next, ps, nil, []LogMsg{logMsg(LevelDebug, "read quorum of one reached, waiting for apply to catch up", F("targetIndex", pr.TargetIndex))}
	}

	actions := []Action{BroadcastRPCAction{To: env.Config.Peers(), RPC: AppendEntries{
		Term:         ls.Term,
		LeaderId:     env.Config.SelfId,
		PrevLogIndex: ls.LastLogIndex,
		PrevLogTerm:  ls.LastLogTerm,
		LeaderCommit: ls.CommitIndex,
		ReadRequest:  serial,
		HasReadReq:   true,
	}}}
	return next, ps, actions, []LogMsg{logMsg(LevelDebug, "read pending heartbeat quorum", F("serial", serial))}
}

func quorumAckedRead(pr *PendingRead, clusterSize int) bool {
	return len(pr.Acked) >= Quorum(clusterSize)
}

func leaderHandleAppendEntriesResponse(ls LeaderState, env TransitionEnv, ps PersistentState, rpc AppendEntriesResponse) (NodeState, PersistentState, []Action, []LogMsg) {
	if rpc.Term < ls.Term {
		return ls, ps, nil, []LogMsg{logMsg(LevelDebug, "stale AppendEntriesResponse ignored")}
	}

	next := ls.clone()
	var actions []Action
	var logs []LogMsg

	if !rpc.Success {
		newNext := next.NextIndex[rpc.From] - 1
		if rpc.MatchIndex > 0 {
			newNext = rpc.MatchIndex + 1
		}
		if newNext < 1 {
			newNext = 1
		}
		next.NextIndex[rpc.From] = newNext

		prevIndex := newNext - 1
		prevTerm := TermNone
		if prevIndex > 0 && int(prevIndex) <= len(env.LogTail) {
			prevTerm = env.LogTail[prevIndex-1].Term
		}
		var entries []LogEntry
		if int(newNext) <= len(env.LogTail) {
			entries = env.LogTail[newNext-1:]
		}

		actions = append(actions, SendRPCAction{To: rpc.From, RPC: AppendEntries{
			Term:         ls.Term,
			LeaderId:     env.Config.SelfId,
			PrevLogIndex: prevIndex,
			PrevLogTerm:  prevTerm,
			Entries:      entries,
			LeaderCommit: next.CommitIndex,
		}})
		logs = append(logs, logMsg(LevelDebug, "AppendEntries rejected, retrying", F("peer", rpc.From), F("nextIndex", newNext)))
	} else {
		next.MatchIndex[rpc.From] = rpc.MatchIndex
		if rpc.MatchIndex+1 > next.NextIndex[rpc.From] {
			next.NextIndex[rpc.From] = rpc.MatchIndex + 1
		}

		var commitActions []Action
		var commitLogs []LogMsg
		next, commitActions, commitLogs = tryAdvanceCommit(next, env)
		actions = append(actions, commitActions...)
		logs = append(logs, commitLogs...)

		if rpc.HasReadReq {
			if pr, ok := next.ReadReqs[rpc.ReadRequest]; ok {
				pr.Acked[rpc.From] = true
				if quorumAckedRead(pr, env.Config.ClusterSize()) {
					if pr.TargetIndex <= next.LastApplied {
						delete(next.ReadReqs, rpc.ReadRequest)
						actions = append(actions, RespondToClientAction{
							ClientId: pr.ClientId,
							Response: ClientResponse{Kind: ResponseRead, Snapshot: env.RSMSnapshot},
						})
						logs = append(logs, logMsg(LevelDebug, "read quorum reached", F("serial", rpc.ReadRequest)))
					} else {
						pr.QuorumReached = true
						logs = append(logs, logMsg(LevelDebug, "read quorum reached, waiting for apply to catch up", F("serial", rpc.ReadRequest), F("targetIndex", pr.TargetIndex)))
					}
				}
			}
		}
	}

	return next, ps, actions, logs
}

// tryAdvanceCommit implements spec §4.4's commit-advancement rule: the
// largest N greater than commitIndex for which a majority of the cluster
// (including the leader itself) have replicated through N, and for which
// log[N].Term equals the leader's current term (the current-term commit
// rule, spec §8.8, preventing resurrection of entries from a prior term).
func tryAdvanceCommit(ls LeaderState, env TransitionEnv) (LeaderState, []Action, []LogMsg) {
	matches := make([]Index, 0, len(ls.MatchIndex)+1)
	matches = append(matches, ls.LastLogIndex) // the leader always matches its own log
	for _, idx := range ls.MatchIndex {
		matches = append(matches, idx)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] > matches[j] })

	quorum := Quorum(len(matches))
	candidate := matches[quorum-1]

	if candidate <= ls.CommitIndex {
		return ls, nil, nil
	}
	term, known := entryTermAt(ls, env, candidate)
	if !known || term != ls.Term {
		return ls, nil, []LogMsg{logMsg(LevelDebug, "commit advancement blocked by current-term rule", F("candidate", candidate))}
	}

	oldCommit := ls.CommitIndex
	ls.CommitIndex = candidate

	var actions []Action
	var logs []LogMsg
	for idx := oldCommit + 1; idx <= candidate; idx++ {
		if pw, ok := ls.PendingWrites[idx]; ok {
			actions = append(actions, RespondToClientAction{
				ClientId: pw.ClientId,
				Response: ClientResponse{Kind: ResponseWrite, Index: idx},
			})
			delete(ls.PendingWrites, idx)
		}
	}
	logs = append(logs, logMsg(LevelInfo, "commit index advanced", F("from", oldCommit), F("to", candidate)))
	return ls, actions, logs
}

// entryTermAt returns the term of the log entry at idx. env.LogTail is a
// snapshot read before the current transition began, so it never contains
// an entry the transition itself just appended to ls (becomeLeader's
// no-op, leaderHandleClientWrite's new entry). A leader only ever appends
// entries stamped with its own current term, so any idx beyond the tail
// but within ls.LastLogIndex is known to be at ls.Term without a store
// read.
func entryTermAt(ls LeaderState, env TransitionEnv, idx Index) (Term, bool) {
	if idx > 0 && int(idx) <= len(env.LogTail) {
		return env.LogTail[idx-1].Term, true
	}
	if idx > 0 && idx <= ls.LastLogIndex {
		return ls.Term, true
	}
	return TermNone, false
}
