package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quiverio/raft"
)

func TestEndpoint_SendDeliversToRegisteredHandler(t *testing.T) {
	rq := require.New(t)

	net := NewNetwork()
	a := net.NewEndpoint("a")
	b := net.NewEndpoint("b")

	received := make(chan any, 1)
	b.SetHandler(func(_ context.Context, from raft.NodeId, rpc any) {
		rq.Equal(raft.NodeId("a"), from)
		received <- rpc
	})

	rq.NoError(a.SendRPC(context.Background(), "b", "hello"))

	select {
	case rpc := <-received:
		rq.Equal("hello", rpc)
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestEndpoint_SendToUnknownPeerErrors(t *testing.T) {
	net := NewNetwork()
	a := net.NewEndpoint("a")

	err := a.SendRPC(context.Background(), "ghost", "hello")
	require.ErrorIs(t, err, ErrPeerUnknown)
}

func TestEndpoint_Broadcast_DeliversToEveryPeer(t *testing.T) {
	rq := require.New(t)

	net := NewNetwork()
	a := net.NewEndpoint("a")
	b := net.NewEndpoint("b")
	c := net.NewEndpoint("c")

	gotB := make(chan struct{}, 1)
	gotC := make(chan struct{}, 1)
	b.SetHandler(func(context.Context, raft.NodeId, any) { gotB <- struct{}{} })
	c.SetHandler(func(context.Context, raft.NodeId, any) { gotC <- struct{}{} })

	rq.NoError(a.BroadcastRPC(context.Background(), []raft.NodeId{"b", "c"}, "ping"))

	for _, ch := range []chan struct{}{gotB, gotC} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("broadcast did not reach every peer")
		}
	}
	rq.True(true)
}

func TestNetwork_PartitionStopsDeliveryUntilHealed(t *testing.T) {
	rq := require.New(t)

	net := NewNetwork()
	a := net.NewEndpoint("a")
	b := net.NewEndpoint("b")
	b.SetHandler(func(context.Context, raft.NodeId, any) {})

	net.Partition("b")
	err := a.SendRPC(context.Background(), "b", "hello")
	rq.ErrorIs(err, ErrPeerStopped)

	net.Heal("b")
	rq.NoError(a.SendRPC(context.Background(), "b", "hello"))
}
