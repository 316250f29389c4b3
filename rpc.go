package raft

// AppendEntries carries zero or more log entries from a leader to a
// follower, doubling as a heartbeat when Entries is empty and as a
// leadership-confirmation probe for linearizable reads when HasReadReq is
// set (spec §4.4/§6).
type AppendEntries struct {
	Term         Term
	LeaderId     NodeId
	PrevLogIndex Index
	PrevLogTerm  Term
	Entries      []LogEntry
	LeaderCommit Index

	// ReadRequest, when HasReadReq is set, is echoed back by the follower
	// unmodified so the leader can tally heartbeat-quorum acks for a
	// pending read.
	ReadRequest ReadSerial
	HasReadReq  bool
}

// AppendEntriesResponse is the follower's reply to AppendEntries.
type AppendEntriesResponse struct {
	Term    Term
	Success bool

	// MatchIndex is the follower's resulting last-log-index on success.
	// On failure it is the follower's actual LastLogIndex, allowing the
	// leader to fast-backtrack nextIndex instead of decrementing by one.
	MatchIndex Index

	From NodeId

	ReadRequest ReadSerial
	HasReadReq  bool
}

// RequestVote is a candidate's solicitation for a vote in a given term.
type RequestVote struct {
	Term         Term
	CandidateId  NodeId
	LastLogIndex Index
	LastLogTerm  Term
}

// RequestVoteResponse is a voter's reply to RequestVote.
type RequestVoteResponse struct {
	Term        Term
	VoteGranted bool
	From        NodeId
}

// ReadSerial is a leader-minted, strictly increasing token correlating a
// pending linearizable read with the heartbeat-quorum round that confirms
// it (spec §4.4, Glossary "Linearizable read").
type ReadSerial int64

// RequestKind discriminates the two shapes of ClientRequest.
type RequestKind int

const (
	RequestRead RequestKind = iota
	RequestWrite
)

// ClientRequest is the envelope a client sends to a node (spec §6).
type ClientRequest struct {
	ClientId ClientId
	Kind     RequestKind
	Command  any // populated only when Kind == RequestWrite
}

// ResponseKind discriminates the three shapes of ClientResponse.
type ResponseKind int

const (
	ResponseRead ResponseKind = iota
	ResponseWrite
	ResponseRedirect
)

// ClientResponse is the reply a node sends back for a ClientRequest.
type ClientResponse struct {
	Kind ResponseKind

	// Snapshot is populated for ResponseRead: the applied RSM state as of
	// a confirmed-leadership heartbeat quorum.
	Snapshot any

	// Index is populated for ResponseWrite: the committed log index of the
	// accepted write.
	Index Index

	// Leader is populated for ResponseRedirect.
	Leader LeaderRef
}
