package raft

// Event is the input alphabet of the transition engine (spec §4.1): a
// timer firing, an RPC arriving, or a client request arriving.
type Event interface {
	EventKind() EventKind
}

type EventKind int

const (
	EventTimeout EventKind = iota
	EventMessage
	EventClientRequest
	EventApplyAdvanced
)

// TimeoutEvent fires when the driver's election or heartbeat timer expires.
type TimeoutEvent struct {
	Kind TimerKind
}

func (TimeoutEvent) EventKind() EventKind { return EventTimeout }

// MessageEvent wraps one inbound RPC. RPC holds exactly one of
// AppendEntries, AppendEntriesResponse, RequestVote, RequestVoteResponse.
type MessageEvent struct {
	RPC any
}

func (MessageEvent) EventKind() EventKind { return EventMessage }

// ClientRequestEvent wraps one inbound client request.
type ClientRequestEvent struct {
	Request ClientRequest
}

func (ClientRequestEvent) EventKind() EventKind { return EventClientRequest }

// ApplyAdvancedEvent notifies the engine that the driver's commit-and-apply
// pipeline has just advanced LastApplied on the NodeState passed alongside
// it. Only the Leader handler does anything with it: it flushes any
// PendingRead whose heartbeat quorum already landed but whose TargetIndex
// only just became satisfied (spec §4.4).
type ApplyAdvancedEvent struct{}

func (ApplyAdvancedEvent) EventKind() EventKind { return EventApplyAdvanced }
