package raft

// handleFollowerEvent implements spec §4.2. It is grounded on the teacher's
// follower.go term-comparison structure (currentTerm vs peerTerm, then
// grant/reject), generalized from "mutate worker.state and reply" to
// "return new state, new persisted state, and actions".
func handleFollowerEvent(fs FollowerState, env TransitionEnv, ps PersistentState, ev Event) (NodeState, PersistentState, []Action, []LogMsg) {
	switch e := ev.(type) {
	case TimeoutEvent:
		if e.Kind != ElectionTimeout {
			return fs, ps, nil, []LogMsg{logMsg(LevelDebug, "follower ignoring heartbeat timeout")}
		}
		return startElection(fs.CommitIndex, fs.LastApplied, env, ps)

	case MessageEvent:
		switch rpc := e.RPC.(type) {
		case RequestVote:
			return followerHandleRequestVote(fs, env, ps, rpc)
		case AppendEntries:
			return followerHandleAppendEntries(fs, env, ps, rpc)
		default:
			return fs, ps, nil, []LogMsg{logMsg(LevelDebug, "follower ignoring response message")}
		}

	case ClientRequestEvent:
		return fs, ps, []Action{RespondToClientAction{
			ClientId: e.Request.ClientId,
			Response: ClientResponse{Kind: ResponseRedirect, Leader: fs.CurrentLeader},
		}}, nil

	case ApplyAdvancedEvent:
		return fs, ps, nil, nil
	}
	panic("raft: unhandled event type")
}

// startElection is shared by Follower's ElectionTimeout handling and
// Candidate's own re-election on timeout (spec §4.2/§4.3).
func startElection(commitIndex, lastApplied Index, env TransitionEnv, ps PersistentState) (NodeState, PersistentState, []Action, []LogMsg) {
	newTerm := ps.CurrentTerm + 1
	nextPs := PersistentState{CurrentTerm: newTerm, HasVoted: true, VotedFor: env.Config.SelfId}

	cs := CandidateState{
		Term:          newTerm,
		VotesReceived: map[NodeId]bool{env.Config.SelfId: true},
		CommitIndex:   commitIndex,
		LastApplied:   lastApplied,
	}

	// A single-node cluster's self-vote is already a majority; nothing
	// will ever send it a RequestVoteResponse to notice that, since
	// env.Config.Peers() is empty, so the check has to happen here. nextPs
	// carries the new term/vote this election just recorded.
	if cs.HasMajority(env.Config.ClusterSize()) {
		return becomeLeader(cs, env, nextPs)
	}

	actions := []Action{
		BroadcastRPCAction{
			To: env.Config.Peers(),
			RPC: RequestVote{
				Term:         newTerm,
				CandidateId:  env.Config.SelfId,
				LastLogIndex: env.LastLogIndex,
				LastLogTerm:  env.LastLogTerm,
			},
		},
		ResetTimerAction{Kind: ElectionTimeout},
	}

	logs := []LogMsg{logMsg(LevelInfo, "election timeout, starting election", F("term", newTerm))}
	return cs, nextPs, actions, logs
}

func followerHandleRequestVote(fs FollowerState, env TransitionEnv, ps PersistentState, rpc RequestVote) (NodeState, PersistentState, []Action, []LogMsg) {
	reply := func(granted bool) []Action {
		return []Action{SendRPCAction{To: rpc.CandidateId, RPC: RequestVoteResponse{
			Term:        ps.CurrentTerm,
			VoteGranted: granted,
			From:        env.Config.SelfId,
		}}}
	}

	if rpc.Term < ps.CurrentTerm {
		return fs, ps, reply(false), []LogMsg{logMsg(LevelDebug, "RequestVote reject, term behind", F("peerTerm", rpc.Term), F("term", ps.CurrentTerm))}
	}

	alreadyVotedElsewhere := ps.HasVoted && ps.VotedFor != rpc.CandidateId
	candidateUpToDate := rpc.LastLogTerm > env.LastLogTerm ||
		(rpc.LastLogTerm == env.LastLogTerm && rpc.LastLogIndex >= env.LastLogIndex)

	if alreadyVotedElsewhere || !candidateUpToDate {
		return fs, ps, reply(false), []LogMsg{logMsg(LevelDebug, "RequestVote reject", F("candidate", rpc.CandidateId))}
	}

	nextPs := ps.WithVote(rpc.CandidateId)
	actions := append(reply(true), ResetTimerAction{Kind: ElectionTimeout})
	return fs, nextPs, actions, []LogMsg{logMsg(LevelDebug, "vote granted", F("candidate", rpc.CandidateId))}
}

func followerHandleAppendEntries(fs FollowerState, env TransitionEnv, ps PersistentState, rpc AppendEntries) (NodeState, PersistentState, []Action, []LogMsg) {
	rejectWithoutAppend := func() []Action {
		return []Action{SendRPCAction{To: rpc.LeaderId, RPC: AppendEntriesResponse{
			Term:       ps.CurrentTerm,
			Success:    false,
			MatchIndex: env.LastLogIndex,
			From:       env.Config.SelfId,
		}}}
	}

	if rpc.Term < ps.CurrentTerm {
		return fs, ps, rejectWithoutAppend(), []LogMsg{logMsg(LevelDebug, "AppendEntries reject, term behind")}
	}

	if rpc.PrevLogIndex != IndexNone {
		if env.PrevEntryTerm == nil || *env.PrevEntryTerm != rpc.PrevLogTerm {
			return fs, ps, append(rejectWithoutAppend(), ResetTimerAction{Kind: ElectionTimeout}),
				[]LogMsg{logMsg(LevelDebug, "AppendEntries reject, log mismatch at prevLogIndex", F("prevLogIndex", rpc.PrevLogIndex))}
		}
	}

	existing := make(map[Index]Term, len(env.ExistingEntries))
	for _, e := range env.ExistingEntries {
		existing[e.Index] = e.Term
	}

	firstNew := len(rpc.Entries)
	for i, e := range rpc.Entries {
		if term, ok := existing[e.Index]; !ok || term != e.Term {
			firstNew = i
			break
		}
	}

	var actions []Action
	if firstNew < len(rpc.Entries) {
		actions = append(actions, AppendLogEntriesAction{Entries: rpc.Entries[firstNew:]})
	}

	indexOfLastNewEntry := rpc.PrevLogIndex + Index(len(rpc.Entries))
	newCommit := fs.CommitIndex
	if candidate := min64(rpc.LeaderCommit, indexOfLastNewEntry); candidate > newCommit {
		newCommit = candidate
	}

	nextFs := FollowerState{
		CurrentLeader: KnownLeader(rpc.LeaderId),
		CommitIndex:   newCommit,
		LastApplied:   fs.LastApplied,
	}

	resp := AppendEntriesResponse{
		Term:       ps.CurrentTerm,
		Success:    true,
		MatchIndex: indexOfLastNewEntry,
		From:       env.Config.SelfId,
	}
	if rpc.HasReadReq {
		resp.HasReadReq = true
		resp.ReadRequest = rpc.ReadRequest
	}

	actions = append(actions, ResetTimerAction{Kind: ElectionTimeout}, SendRPCAction{To: rpc.LeaderId, RPC: resp})

	return nextFs, ps, actions, []LogMsg{logMsg(LevelDebug, "AppendEntries accepted", F("matchIndex", indexOfLastNewEntry))}
}

func min64(a, b Index) Index {
	if a < b {
		return a
	}
	return b
}
