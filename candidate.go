package raft

// handleCandidateEvent implements spec §4.3. Grounded on the teacher's
// candidate.go term-comparison structure and its become(RoleLeader) /
// become(RoleFollower) transitions, generalized to return values instead
// of mutating *Raft and dispatching on channels.
func handleCandidateEvent(cs CandidateState, env TransitionEnv, ps PersistentState, ev Event) (NodeState, PersistentState, []Action, []LogMsg) {
	switch e := ev.(type) {
	case TimeoutEvent:
		if e.Kind != ElectionTimeout {
			return cs, ps, nil, []LogMsg{logMsg(LevelDebug, "candidate ignoring heartbeat timeout")}
		}
		return startElection(cs.CommitIndex, cs.LastApplied, env, ps)

	case MessageEvent:
		switch rpc := e.RPC.(type) {
		case RequestVoteResponse:
			return candidateHandleVoteResponse(cs, env, ps, rpc)
		case RequestVote:
			return candidateHandleRequestVote(cs, env, ps, rpc)
		case AppendEntries:
			// A peer has been confirmed leader for this term; step down
			// and let the follower handler process the RPC itself
			// (spec §4.3: "step down to Follower and re-dispatch").
			if rpc.Term >= ps.CurrentTerm {
				fs := FollowerState{CurrentLeader: NoLeader(), CommitIndex: cs.CommitIndex, LastApplied: cs.LastApplied}
				return followerHandleAppendEntries(fs, env, ps, rpc)
			}
			return cs, ps, nil, []LogMsg{logMsg(LevelDebug, "AppendEntries reject, term behind")}
		default:
			return cs, ps, nil, []LogMsg{logMsg(LevelDebug, "candidate ignoring response message")}
		}

	case ClientRequestEvent:
		return cs, ps, []Action{RespondToClientAction{
			ClientId: e.Request.ClientId,
			Response: ClientResponse{Kind: ResponseRedirect, Leader: NoLeader()},
		}}, nil

	case ApplyAdvancedEvent:
		return cs, ps, nil, nil
	}
	panic("raft: unhandled event type")
}

func candidateHandleRequestVote(cs CandidateState, env TransitionEnv, ps PersistentState, rpc RequestVote) (NodeState, PersistentState, []Action, []LogMsg) {
	reject := []Action{SendRPCAction{To: rpc.CandidateId, RPC: RequestVoteResponse{
		Term:        ps.CurrentTerm,
		VoteGranted: false,
		From:        env.Config.SelfId,
	}}}
	return cs, ps, reject, []LogMsg{logMsg(LevelDebug, "RequestVote reject, already a candidate this term")}
}

func candidateHandleVoteResponse(cs CandidateState, env TransitionEnv, ps PersistentState, rpc RequestVoteResponse) (NodeState, PersistentState, []Action, []LogMsg) {
	if rpc.Term != cs.Term || !rpc.VoteGranted {
		return cs, ps, nil, []LogMsg{logMsg(LevelDebug, "vote response ignored", F("granted", rpc.VoteGranted))}
	}

	next := cs.clone()
	next.VotesReceived[rpc.From] = true

	if !next.HasMajority(env.Config.ClusterSize()) {
		return next, ps, nil, []LogMsg{logMsg(LevelDebug, "vote recorded", F("votes", len(next.VotesReceived)))}
	}

	return becomeLeader(next, env, ps)
}

// becomeLeader implements the Candidate→Leader transition (spec §4.3): it
// initializes per-peer replication progress, appends the term's no-value
// entry, and broadcasts it immediately.
func becomeLeader(cs CandidateState, env TransitionEnv, ps PersistentState) (NodeState, PersistentState, []Action, []LogMsg) {
	noOpIndex := env.LastLogIndex + 1
	noOp := LogEntry{Index: noOpIndex, Term: cs.Term, Value: NoOpValue()}

	ls := LeaderState{
		Term:           cs.Term,
		NextIndex:      map[NodeId]Index{},
		MatchIndex:     map[NodeId]Index{},
		CommitIndex:    cs.CommitIndex,
		LastApplied:    cs.LastApplied,
		LastLogIndex:   noOpIndex,
		LastLogTerm:    cs.Term,
		PendingWrites:  map[Index]PendingWrite{},
		ReadReqs:       map[ReadSerial]*PendingRead{},
		NextReadSerial: 1,
	}
	for _, p := range env.Config.Peers() {
		ls.NextIndex[p] = env.LastLogIndex + 1
		ls.MatchIndex[p] = IndexNone
	}

	actions := []Action{
		AppendLogEntriesAction{Entries: []LogEntry{noOp}},
		BroadcastRPCAction{
			To: env.Config.Peers(),
			RPC: AppendEntries{
				Term:         cs.Term,
				LeaderId:     env.Config.SelfId,
				PrevLogIndex: env.LastLogIndex,
				PrevLogTerm:  env.LastLogTerm,
				Entries:      []LogEntry{noOp},
				LeaderCommit: cs.CommitIndex,
			},
		},
		ResetTimerAction{Kind: HeartbeatTimeout},
	}

	logs := []LogMsg{logMsg(LevelInfo, "won election, becoming leader", F("term", cs.Term))}

	// A single-node cluster is its own majority: the no-op just appended
	// above already satisfies the current-term commit rule against ls's
	// own LastLogIndex/Term (spec §8, "single-node cluster commits
	// immediately upon leader election").
	var commitActions []Action
	var commitLogs []LogMsg
	ls, commitActions, commitLogs = tryAdvanceCommit(ls, env)
	actions = append(actions, commitActions...)
	logs = append(logs, commitLogs...)

	return ls, ps, actions, logs
}
