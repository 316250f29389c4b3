// Package driver is a reference event-loop implementation that drives the
// pure raft package: one goroutine owns the node's state and feeds it
// Events, executing whatever Actions and LogMsgs come back.
//
// Grounded on the teacher's raft.go daemon() (a single select-loop
// goroutine dispatching tasks off channels, persisting on state change,
// ticking a separate apply loop) generalized from the teacher's
// task-with-waitgroup RPC plumbing to this package's Transport/Endpoint
// abstraction, and from the teacher's mutate-in-place *Raft to the pure
// core's return-new-state style.
package driver

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/quiverio/raft"
)

// PersistentStore is the subset of a storage backend the driver needs to
// durably record term/vote changes (spec §4.7). Both memstore.Store and
// boltstore.Store satisfy this.
type PersistentStore interface {
	WritePersistentState(raft.PersistentState) error
}

type inboundRPC struct {
	from raft.NodeId
	rpc  any
}

type clientCall struct {
	req  raft.ClientRequest
	resp chan raft.ClientResponse
}

// Node drives one raft cluster member end to end.
type Node struct {
	cfg       Config
	store     raft.LogStore
	persister PersistentStore
	rsm       raft.RSM
	ep        raft.Transport
	logger    *zap.Logger

	// mu guards state/persisted/rsmSnapshot, mutated only inside the single
	// event-loop goroutine (dispatch/apply) but read concurrently by the
	// accessor methods below, which embedders and tests use to observe a
	// running Node from the outside.
	mu          sync.RWMutex
	state       raft.NodeState
	persisted   raft.PersistentState
	rsmSnapshot any

	inboundCh chan inboundRPC
	submitCh  chan clientCall
	waiters   map[raft.ClientId]chan raft.ClientResponse

	pendingReset pendingReset

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewNode constructs a Node in the initial Follower state (spec §4.6),
// recovering persisted term/vote via initial. It does not start the
// daemon; call Run for that. ep only needs to satisfy raft.Transport —
// registering it to deliver inbound RPCs to this Node is the caller's job,
// via Handler() (see transport.Endpoint.SetHandler for the reference
// transport's wiring).
func NewNode(cfg Config, store raft.LogStore, persister PersistentStore, rsm raft.RSM, ep raft.Transport, initial raft.PersistentState) *Node {
	logger := cfg.Logger
	if logger == nil {
		logger = GetComponentLoggerOrPanic("driver", cfg.Policy)
	}
	logger = logger.With(zap.String(fieldComponent, "node"), zap.String("self", string(cfg.Raft.SelfId)))

	return &Node{
		cfg:       cfg,
		store:     store,
		persister: persister,
		rsm:       rsm,
		ep:        ep,
		logger:    logger,
		state:     raft.NewFollowerState(),
		persisted: initial,
		inboundCh: make(chan inboundRPC, 64),
		submitCh:  make(chan clientCall),
		waiters:   make(map[raft.ClientId]chan raft.ClientResponse),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Handler returns the callback a Transport should invoke for every RPC
// addressed to this node. Separated from construction so Node never
// depends on a concrete Transport's registration API — only on
// raft.Transport's send side.
func (n *Node) Handler() func(ctx context.Context, from raft.NodeId, rpc any) {
	return n.handleInbound
}

// Role reports the node's current role.
func (n *Node) Role() raft.RoleType {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state.Role()
}

// Term reports the node's current term.
func (n *Node) Term() raft.Term {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.persisted.CurrentTerm
}

// IsLeader reports whether the node currently believes itself to be
// leader.
func (n *Node) IsLeader() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state.Role() == raft.RoleLeader
}

// CurrentLeader reports the node's best knowledge of the cluster leader:
// itself if it is leader, the leader a Follower has heard from, or
// NoLeader for a Candidate or an as-yet-uninformed Follower.
func (n *Node) CurrentLeader() raft.LeaderRef {
	n.mu.RLock()
	defer n.mu.RUnlock()
	switch s := n.state.(type) {
	case raft.LeaderState:
		return raft.KnownLeader(n.cfg.Raft.SelfId)
	case raft.FollowerState:
		return s.CurrentLeader
	default:
		return raft.NoLeader()
	}
}

// CommitIndex reports the node's current commit index.
func (n *Node) CommitIndex() raft.Index {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state.CommitIdx()
}

// RSMSnapshot reports the node's last-applied RSM state.
func (n *Node) RSMSnapshot() any {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.rsmSnapshot
}

func (n *Node) handleInbound(_ context.Context, from raft.NodeId, rpc any) {
	select {
	case n.inboundCh <- inboundRPC{from: from, rpc: rpc}:
	case <-n.stopCh:
	}
}

// Submit enqueues a client request and blocks for its ClientResponse, or
// until ctx is done. Grounded on the teacher's Start() wg.Wait() pattern,
// adapted to a context deadline instead of an unconditional block.
func (n *Node) Submit(ctx context.Context, kind raft.RequestKind, command any) (raft.ClientResponse, error) {
	req := raft.ClientRequest{ClientId: raft.ClientId(uuid.NewString()), Kind: kind, Command: command}
	call := clientCall{req: req, resp: make(chan raft.ClientResponse, 1)}

	select {
	case n.submitCh <- call:
	case <-ctx.Done():
		return raft.ClientResponse{}, ctx.Err()
	case <-n.stopCh:
		return raft.ClientResponse{}, fmt.Errorf("driver: node stopped")
	}

	select {
	case resp := <-call.resp:
		if resp.Kind == raft.ResponseRedirect {
			if resp.Leader.Known() {
				return resp, fmt.Errorf("%w: leader is %s", raft.ErrNotLeader, resp.Leader)
			}
			return resp, fmt.Errorf("%w: leader unknown", raft.ErrNotLeader)
		}
		return resp, nil
	case <-ctx.Done():
		return raft.ClientResponse{}, ctx.Err()
	case <-n.stopCh:
		return raft.ClientResponse{}, fmt.Errorf("driver: node stopped")
	}
}

// Stop shuts the daemon down and blocks until its goroutine has exited.
func (n *Node) Stop() {
	close(n.stopCh)
	<-n.doneCh
}

// Run starts the daemon loop and blocks until ctx is done or Stop is
// called. It is the Node-level analog of the teacher's rf.daemon().
func (n *Node) Run(ctx context.Context) {
	defer close(n.doneCh)

	electionTimer := time.NewTimer(n.randomElectionTimeout())
	heartbeatTimer := time.NewTimer(n.cfg.HeartbeatInterval)
	applyTicker := time.NewTicker(n.cfg.ApplyTickInterval)
	defer electionTimer.Stop()
	defer heartbeatTimer.Stop()
	defer applyTicker.Stop()

	n.logger.Info("daemon started")

	for {
		select {
		case <-ctx.Done():
			n.logger.Info("daemon stopping, context done")
			return
		case <-n.stopCh:
			n.logger.Info("daemon stopping")
			return

		case inb := <-n.inboundCh:
			n.dispatch(ctx, raft.MessageEvent{RPC: inb.rpc})

		case call := <-n.submitCh:
			n.waiters[call.req.ClientId] = call.resp
			n.dispatch(ctx, raft.ClientRequestEvent{Request: call.req})

		case <-electionTimer.C:
			attemptID := uuid.NewString()
			n.logger.Info("election timeout fired", zap.String("electionAttempt", attemptID))
			n.dispatch(ctx, raft.TimeoutEvent{Kind: raft.ElectionTimeout})

		case <-heartbeatTimer.C:
			n.dispatch(ctx, raft.TimeoutEvent{Kind: raft.HeartbeatTimeout})

		case <-applyTicker.C:
			n.apply(ctx)
		}

		n.resetTimerIfRequested(electionTimer, heartbeatTimer)
	}
}

// resetTimerIfRequested applies whatever ResetTimerAction the most recent
// dispatch produced, recorded in n.pendingReset so the select statement
// itself stays free of per-action branching.
func (n *Node) resetTimerIfRequested(electionTimer, heartbeatTimer *time.Timer) {
	switch n.pendingReset {
	case pendingResetElection:
		electionTimer.Reset(n.randomElectionTimeout())
	case pendingResetHeartbeat:
		heartbeatTimer.Reset(n.cfg.HeartbeatInterval)
	}
	n.pendingReset = pendingResetNone
}

type pendingReset int

const (
	pendingResetNone pendingReset = iota
	pendingResetElection
	pendingResetHeartbeat
)

func (n *Node) randomElectionTimeout() time.Duration {
	spread := int64(n.cfg.ElectionTimeoutMax - n.cfg.ElectionTimeoutMin)
	if spread <= 0 {
		return n.cfg.ElectionTimeoutMin
	}
	return n.cfg.ElectionTimeoutMin + time.Duration(rand.Int63n(spread))
}

// dispatch runs one Event through the pure core and executes the result.
// Grounded on the teacher's handleAppendEntriesTask/handleRequestVotesTask/
// handleStoreNewCommandTask trio, unified here into one path because the
// pure core, unlike the teacher's *Role, already dispatches by event kind.
func (n *Node) dispatch(ctx context.Context, ev raft.Event) {
	n.mu.RLock()
	rsmSnapshot := n.rsmSnapshot
	n.mu.RUnlock()

	env, err := buildEnv(ctx, n.cfg.Raft, n.store, rsmSnapshot)
	if err != nil {
		n.fail(fmt.Errorf("driver: build env: %w", err))
		return
	}
	if msg, ok := ev.(raft.MessageEvent); ok {
		if ae, ok := msg.RPC.(raft.AppendEntries); ok {
			env, err = annotateAppendEntries(ctx, n.store, env, ae)
			if err != nil {
				n.fail(fmt.Errorf("driver: annotate append entries: %w", err))
				return
			}
		}
	}

	n.mu.RLock()
	state, persisted := n.state, n.persisted
	n.mu.RUnlock()

	nextState, nextPersisted, actions, logs := raft.HandleEvent(state, env, persisted, ev)

	if nextState.Role() != state.Role() {
		n.logger.Info("role transition",
			zap.String(fieldRole, string(nextState.Role())),
			zap.Int64(fieldTerm, int64(nextPersisted.CurrentTerm)))
	}

	for _, l := range logs {
		emitLog(n.logger, l)
	}

	if nextPersisted != persisted {
		if err := n.persister.WritePersistentState(nextPersisted); err != nil {
			n.fail(fmt.Errorf("driver: persist term/vote: %w", err))
			return
		}
	}

	n.mu.Lock()
	n.state = nextState
	n.persisted = nextPersisted
	n.mu.Unlock()

	if err := n.execute(ctx, actions); err != nil {
		n.fail(err)
	}
}

func (n *Node) fail(err error) {
	n.logger.Error("action execution failed", zap.Error(err))
	if n.cfg.Policy == CrashOnError {
		panic(err)
	}
}

func emitLog(logger *zap.Logger, msg raft.LogMsg) {
	fields := make([]zap.Field, 0, len(msg.Fields))
	for _, f := range msg.Fields {
		fields = append(fields, zap.Any(f.Key, f.Value))
	}
	switch msg.Level {
	case raft.LevelWarn:
		logger.Warn(msg.Message, fields...)
	case raft.LevelInfo:
		logger.Info(msg.Message, fields...)
	default:
		logger.Debug(msg.Message, fields...)
	}
}

// execute performs every Action returned by HandleEvent. Failures to send
// to individual peers are independent of each other, so they are combined
// with multierr rather than short-circuiting on the first one (SPEC_FULL.md
// §7).
func (n *Node) execute(ctx context.Context, actions []raft.Action) error {
	var errs error
	for _, a := range actions {
		switch act := a.(type) {
		case raft.SendRPCAction:
			if err := n.ep.SendRPC(ctx, act.To, act.RPC); err != nil {
				n.logger.Warn("send failed", zap.String(fieldPeer, string(act.To)), zap.Error(err))
				errs = multierr.Append(errs, fmt.Errorf("driver: send to %s: %w", act.To, err))
			}

		case raft.BroadcastRPCAction:
			if err := n.ep.BroadcastRPC(ctx, act.To, act.RPC); err != nil {
				n.logger.Warn("broadcast had partial failures", zap.Error(err))
				errs = multierr.Append(errs, fmt.Errorf("driver: broadcast: %w", err))
			}

		case raft.ResetTimerAction:
			n.requestTimerReset(act.Kind)

		case raft.AppendLogEntriesAction:
			if err := n.store.WriteLogEntries(ctx, act.Entries); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("driver: write log entries: %w", err))
			}

		case raft.RespondToClientAction:
			n.respond(act.ClientId, act.Response)
		}
	}
	return errs
}

func (n *Node) requestTimerReset(kind raft.TimerKind) {
	if kind == raft.ElectionTimeout {
		n.pendingReset = pendingResetElection
	} else {
		n.pendingReset = pendingResetHeartbeat
	}
}

func (n *Node) respond(id raft.ClientId, resp raft.ClientResponse) {
	ch, ok := n.waiters[id]
	if !ok {
		return
	}
	delete(n.waiters, id)
	select {
	case ch <- resp:
	default:
	}
}

// apply implements the commit-and-apply pipeline (spec §4.5): whenever
// commitIndex > lastApplied, read the log in order and feed commands to
// the RSM, then advance lastApplied and the node's cached RSMSnapshot.
// Grounded on the teacher's rf.apply(), generalized from a fixed ApplyMsg
// channel to this package's RSM capability.
func (n *Node) apply(ctx context.Context) {
	n.mu.RLock()
	state := n.state
	snapshot := n.rsmSnapshot
	n.mu.RUnlock()

	commit := state.CommitIdx()
	startApplied := state.LastAppliedIdx()
	lastApplied := startApplied
	if commit <= lastApplied {
		return
	}

	for idx := lastApplied + 1; idx <= commit; idx++ {
		entry, ok, err := n.store.ReadLogEntry(ctx, idx)
		if err != nil {
			n.fail(fmt.Errorf("driver: read log entry %d for apply: %w", idx, err))
			return
		}
		if !ok {
			n.logger.Debug("commit index ahead of log, waiting for replication to land", zap.Int64(fieldIndex, int64(idx)))
			break
		}

		if !entry.Value.NoOp {
			next, err := n.rsm.Apply(ctx, snapshot, entry.Value.Command)
			if err != nil {
				n.logger.Error("RSM error, application halted", zap.Error(err), zap.Int64(fieldIndex, int64(idx)))
				return
			}
			snapshot = next
		}
		lastApplied = idx
	}

	n.mu.Lock()
	n.state = raft.WithLastApplied(n.state, lastApplied)
	n.rsmSnapshot = snapshot
	n.mu.Unlock()

	if lastApplied > startApplied {
		// Give the engine a chance to flush any linearizable read that
		// was waiting on exactly this progress (spec §4.4).
		n.dispatch(ctx, raft.ApplyAdvancedEvent{})
	}
}
