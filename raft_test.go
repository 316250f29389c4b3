package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleEvent_HigherTermDemotesLeaderToFollower(t *testing.T) {
	rq := require.New(t)

	ls := newTestLeader(1, "n1")
	env := TransitionEnv{Config: testConfig("n0", "n1")}
	ps := PersistentState{CurrentTerm: 1, HasVoted: true, VotedFor: "n0"}

	next, nextPs, _, logs := HandleEvent(ls, env, ps, MessageEvent{RPC: RequestVote{
		Term: 5, CandidateId: "n1", LastLogIndex: 0, LastLogTerm: 0,
	}})

	rq.Equal(RoleFollower, next.Role())
	rq.Equal(Term(5), nextPs.CurrentTerm)
	rq.Equal(NodeId("n1"), nextPs.VotedFor, "the term bump clears the old vote for n0; the up-to-date candidate then gets the vote")
	rq.NotEmpty(logs)
}

func TestHandleEvent_HigherTermKeepsFollowerButBumpsTerm(t *testing.T) {
	rq := require.New(t)

	fs := NewFollowerState()
	env := TransitionEnv{Config: testConfig("n0", "n1")}
	ps := PersistentState{CurrentTerm: 1}

	next, nextPs, _, _ := HandleEvent(fs, env, ps, MessageEvent{RPC: AppendEntries{
		Term: 4, LeaderId: "n1",
	}})

	rq.Equal(RoleFollower, next.Role())
	rq.Equal(Term(4), nextPs.CurrentTerm)
}

func TestHandleEvent_EqualTermNeverTriggersDemotion(t *testing.T) {
	rq := require.New(t)

	cs := CandidateState{Term: 3, VotesReceived: map[NodeId]bool{"n0": true}}
	env := TransitionEnv{Config: testConfig("n0", "n1")}
	ps := PersistentState{CurrentTerm: 3}

	next, nextPs, _, _ := HandleEvent(cs, env, ps, MessageEvent{RPC: RequestVote{
		Term: 3, CandidateId: "n1",
	}})

	rq.Equal(RoleCandidate, next.Role())
	rq.Equal(Term(3), nextPs.CurrentTerm)
}

func TestHandleEvent_ApplyAdvancedIgnoredOutsideLeader(t *testing.T) {
	rq := require.New(t)

	env := TransitionEnv{Config: testConfig("n0", "n1")}
	ps := PersistentState{CurrentTerm: 1}

	fs := NewFollowerState()
	next, nextPs, actions, _ := HandleEvent(fs, env, ps, ApplyAdvancedEvent{})
	rq.Equal(fs, next)
	rq.Equal(ps, nextPs)
	rq.Empty(actions)

	cs := CandidateState{Term: 1, VotesReceived: map[NodeId]bool{"n0": true}}
	next2, _, actions2, _ := HandleEvent(cs, env, ps, ApplyAdvancedEvent{})
	rq.Equal(cs, next2)
	rq.Empty(actions2)
}

func TestHandleEvent_AppendEntriesTwiceIsIdempotent(t *testing.T) {
	rq := require.New(t)

	fs := FollowerState{}
	env := TransitionEnv{Config: testConfig("n0", "n1"), LastLogIndex: 0, LastLogTerm: 0}
	ps := PersistentState{CurrentTerm: 1}

	ae := MessageEvent{RPC: AppendEntries{
		Term: 1, LeaderId: "n1", PrevLogIndex: 0, PrevLogTerm: 0,
		Entries:      []LogEntry{{Index: 1, Term: 1, Value: NoOpValue()}},
		LeaderCommit: 1,
	}}

	next1, ps1, _, _ := HandleEvent(fs, env, ps, ae)

	// The second delivery sees the log as the first one left it.
	envAfter := env
	envAfter.LastLogIndex, envAfter.LastLogTerm = 1, 1
	envAfter.ExistingEntries = ae.RPC.(AppendEntries).Entries
	next2, ps2, _, _ := HandleEvent(next1, envAfter, ps1, ae)

	rq.Equal(next1, next2)
	rq.Equal(ps1, ps2)
}
