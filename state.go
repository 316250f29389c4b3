package raft

// PersistentState is the slice of a node's state that must be stable on
// disk before any RPC response depending on it becomes externally visible
// (spec §3, §5). The log itself lives behind the LogStore capability, not
// in this struct.
type PersistentState struct {
	CurrentTerm Term
	HasVoted    bool
	VotedFor    NodeId
}

// WithTerm returns a PersistentState advanced to term, with votedFor
// cleared — the universal pre-transition rule of spec §4.1.
func (p PersistentState) WithTerm(term Term) PersistentState {
	return PersistentState{CurrentTerm: term}
}

// WithVote returns a PersistentState recording a vote for candidate in the
// current term.
func (p PersistentState) WithVote(candidate NodeId) PersistentState {
	p.HasVoted = true
	p.VotedFor = candidate
	return p
}

// RoleType discriminates the three NodeState variants (spec §9: "closed
// set of states ... benefits from exhaustive-case dispatch").
type RoleType string

const (
	RoleFollower  RoleType = "follower"
	RoleCandidate RoleType = "candidate"
	RoleLeader    RoleType = "leader"
)

// NodeState is the tagged variant Follower | Candidate | Leader. The three
// concrete types share commit/apply bookkeeping but diverge sharply in how
// they handle each Event (spec §9).
type NodeState interface {
	Role() RoleType
	CommitIdx() Index
	LastAppliedIdx() Index
}

// FollowerState is a node that is not currently contesting or holding
// leadership.
type FollowerState struct {
	CurrentLeader LeaderRef
	CommitIndex   Index
	LastApplied   Index
}

func (FollowerState) Role() RoleType        { return RoleFollower }
func (f FollowerState) CommitIdx() Index    { return f.CommitIndex }
func (f FollowerState) LastAppliedIdx() Index { return f.LastApplied }

// NewFollowerState returns the initial state of a freshly constructed node
// (spec §4.6): Follower, term 0, empty log, commitIndex = lastApplied = 0.
func NewFollowerState() FollowerState {
	return FollowerState{CurrentLeader: NoLeader()}
}

// CandidateState is a node mid-election for Term.
type CandidateState struct {
	Term          Term
	VotesReceived map[NodeId]bool
	CommitIndex   Index
	LastApplied   Index
}

func (CandidateState) Role() RoleType          { return RoleCandidate }
func (c CandidateState) CommitIdx() Index      { return c.CommitIndex }
func (c CandidateState) LastAppliedIdx() Index { return c.LastApplied }

// HasMajority reports whether VotesReceived, which always includes the
// candidate's own self-vote, has reached quorum out of clusterSize.
func (c CandidateState) HasMajority(clusterSize int) bool {
	return len(c.VotesReceived) >= Quorum(clusterSize)
}

// PendingWrite correlates a not-yet-committed log index with the client
// that submitted it.
type PendingWrite struct {
	ClientId ClientId
}

// PendingRead correlates an in-flight linearizable read with the set of
// peers (NodeIds) that have acknowledged the heartbeat-quorum round
// confirming it, and the client awaiting the reply.
//
// TargetIndex is the commitIndex as of the moment the read was issued: the
// RSM snapshot handed back to the client must reflect at least that much
// of the log (the ReadIndex rule). A heartbeat quorum alone only proves
// leadership is still current; it says nothing about whether the driver's
// apply loop has caught the RSM up to TargetIndex yet, so QuorumReached
// lets a read sit answered-but-undelivered until LastApplied catches up
// (spec §4.4, Glossary "Linearizable read").
type PendingRead struct {
	ClientId      ClientId
	Acked         map[NodeId]bool
	TargetIndex   Index
	QuorumReached bool
}

// LeaderState is a node currently recognized (by itself) as leader.
type LeaderState struct {
	Term Term

	NextIndex  map[NodeId]Index
	MatchIndex map[NodeId]Index

	CommitIndex Index
	LastApplied Index

	// LastLogIndex/LastLogTerm cache the tail of the log as of the last
	// transition that touched it, avoiding a LogStore read on every event
	// that merely needs to know how far the log currently extends.
	LastLogIndex Index
	LastLogTerm  Term

	PendingWrites map[Index]PendingWrite
	ReadReqs      map[ReadSerial]*PendingRead
	NextReadSerial ReadSerial
}

func (LeaderState) Role() RoleType          { return RoleLeader }
func (l LeaderState) CommitIdx() Index      { return l.CommitIndex }
func (l LeaderState) LastAppliedIdx() Index { return l.LastApplied }

// clone returns a shallow copy of l with its maps duplicated, so mutating
// the copy returned by a transition never aliases the previous state's
// maps (handleEvent must treat its inputs as immutable).
func (l LeaderState) clone() LeaderState {
	next := l
	next.NextIndex = cloneIndexMap(l.NextIndex)
	next.MatchIndex = cloneIndexMap(l.MatchIndex)
	next.PendingWrites = make(map[Index]PendingWrite, len(l.PendingWrites))
	for k, v := range l.PendingWrites {
		next.PendingWrites[k] = v
	}
	next.ReadReqs = make(map[ReadSerial]*PendingRead, len(l.ReadReqs))
	for k, v := range l.ReadReqs {
		cp := &PendingRead{
			ClientId:      v.ClientId,
			Acked:         make(map[NodeId]bool, len(v.Acked)),
			TargetIndex:   v.TargetIndex,
			QuorumReached: v.QuorumReached,
		}
		for peer, ok := range v.Acked {
			cp.Acked[peer] = ok
		}
		next.ReadReqs[k] = cp
	}
	return next
}

func cloneIndexMap(m map[NodeId]Index) map[NodeId]Index {
	out := make(map[NodeId]Index, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// WithLastApplied returns state with its LastApplied bookkeeping field
// advanced to applied, otherwise unchanged. The driver calls this after
// running the commit-and-apply pipeline (spec §4.5) against whatever
// NodeState HandleEvent most recently returned, before feeding in the next
// Event — lastApplied is driver-owned data threaded back through the pure
// core rather than mutated out-of-band.
func WithLastApplied(state NodeState, applied Index) NodeState {
	switch s := state.(type) {
	case FollowerState:
		s.LastApplied = applied
		return s
	case CandidateState:
		s.LastApplied = applied
		return s
	case LeaderState:
		s.LastApplied = applied
		return s
	default:
		panic("raft: unknown NodeState variant")
	}
}

func (c CandidateState) clone() CandidateState {
	next := c
	next.VotesReceived = make(map[NodeId]bool, len(c.VotesReceived))
	for k, v := range c.VotesReceived {
		next.VotesReceived[k] = v
	}
	return next
}
