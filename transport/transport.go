// Package transport provides reference raft.Transport-shaped collaborators
// for a driver: an in-process network useful for tests and single-binary
// demos. Grounded on KilimcininKorOglu-oba's internal/raft/transport.go
// InMemoryTransport/InMemoryNetwork pair, generalized from byte-slice RPC
// payloads to the raft package's typed RPC values since this module's RPCs
// are Go structs, not a wire format (spec leaves the wire transport out of
// scope, §1 Non-goals).
package transport

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/multierr"

	"github.com/quiverio/raft"
)

var (
	ErrPeerUnknown  = errors.New("transport: unknown peer")
	ErrPeerStopped  = errors.New("transport: peer transport stopped")
)

// Handler is invoked on the receiving node for every inbound RPC. A driver
// supplies this as the glue between the network and raft.HandleEvent.
type Handler func(ctx context.Context, from raft.NodeId, rpc any)

// Network simulates an in-process cluster's network: every node's Endpoint
// delivers directly into every other node's registered Handler, with no
// serialization. Safe for concurrent use.
type Network struct {
	mu        sync.RWMutex
	endpoints map[raft.NodeId]*Endpoint
}

func NewNetwork() *Network {
	return &Network{endpoints: make(map[raft.NodeId]*Endpoint)}
}

// NewEndpoint registers id on the network and returns its Endpoint. Call
// SetHandler on the result before any RPC addressed to id can be delivered.
func (n *Network) NewEndpoint(id raft.NodeId) *Endpoint {
	ep := &Endpoint{id: id, network: n}
	n.mu.Lock()
	n.endpoints[id] = ep
	n.mu.Unlock()
	return ep
}

// Partition stops delivering any RPC to or from id until Heal is called,
// modeling a crashed or network-partitioned node for tests.
func (n *Network) Partition(id raft.NodeId) {
	n.mu.RLock()
	ep, ok := n.endpoints[id]
	n.mu.RUnlock()
	if ok {
		ep.setPartitioned(true)
	}
}

func (n *Network) Heal(id raft.NodeId) {
	n.mu.RLock()
	ep, ok := n.endpoints[id]
	n.mu.RUnlock()
	if ok {
		ep.setPartitioned(false)
	}
}

func (n *Network) lookup(id raft.NodeId) (*Endpoint, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ep, ok := n.endpoints[id]
	return ep, ok
}

// Endpoint implements raft.Transport (SendRPC and BroadcastRPC) for one
// cluster member. It is the per-node handle a driver holds.
type Endpoint struct {
	id      raft.NodeId
	network *Network

	mu          sync.RWMutex
	handler     Handler
	partitioned bool
}

func (e *Endpoint) SetHandler(h Handler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

func (e *Endpoint) setPartitioned(p bool) {
	e.mu.Lock()
	e.partitioned = p
	e.mu.Unlock()
}

// SendRPC delivers rpc to peer's registered Handler asynchronously in a new
// goroutine, so that a slow or stuck handler on one peer can never block
// the caller's event loop (grounded on the teacher's replicator goroutine
// fan-out in leader.go, one goroutine per outbound RPC). It implements
// raft.Transport. ctx is only checked before the send is attempted — once
// accepted, delivery runs detached, since the receiving node's Handler owns
// its own lifetime independent of the sender's request.
func (e *Endpoint) SendRPC(ctx context.Context, peer raft.NodeId, rpc any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.RLock()
	selfPartitioned := e.partitioned
	e.mu.RUnlock()
	if selfPartitioned {
		return ErrPeerStopped
	}

	target, ok := e.network.lookup(peer)
	if !ok {
		return ErrPeerUnknown
	}

	target.mu.RLock()
	handler, partitioned := target.handler, target.partitioned
	target.mu.RUnlock()
	if partitioned || handler == nil {
		return ErrPeerStopped
	}

	go handler(context.Background(), e.id, rpc)
	return nil
}

// BroadcastRPC sends rpc to every peer in peers, best-effort: a failure to
// reach one peer never stops delivery to the rest, since the engine already
// treats a dropped RPC as ordinary network loss (spec §4.7 BroadcastRPC
// action). The combined error is still reported back, so a driver can log
// it, even though it never changes engine behavior.
func (e *Endpoint) BroadcastRPC(ctx context.Context, peers []raft.NodeId, rpc any) error {
	var errs error
	for _, p := range peers {
		if err := e.SendRPC(ctx, p, rpc); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
