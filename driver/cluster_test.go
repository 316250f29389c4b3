package driver

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quiverio/raft"
	"github.com/quiverio/raft/kvsm"
	"github.com/quiverio/raft/memstore"
	"github.com/quiverio/raft/transport"
)

// testCluster wires up a small in-process cluster of Nodes over a single
// transport.Network, grounded on KilimcininKorOglu-oba's cluster_test.go
// NewTestCluster/Start/WaitForLeader pattern: real goroutines, real timers,
// no whitebox hooks into the daemon loop.
type testCluster struct {
	nodes  []*Node
	net    *transport.Network
	cancel context.CancelFunc
}

func newTestCluster(t *testing.T, n int) *testCluster {
	t.Helper()

	net := transport.NewNetwork()
	ids := make([]raft.NodeId, n)
	for i := range ids {
		ids[i] = raft.NodeId(fmt.Sprintf("n%d", i))
	}

	logger := zap.NewNop()
	nodes := make([]*Node, n)
	for i, id := range ids {
		store := memstore.New()
		cfg := Config{
			Raft: raft.Config{
				SelfId:   id,
				PeerIds:  ids,
			},
			ElectionTimeoutMin: 150 * time.Millisecond,
			ElectionTimeoutMax: 300 * time.Millisecond,
			HeartbeatInterval:  30 * time.Millisecond,
			ApplyTickInterval:  10 * time.Millisecond,
			Logger:             logger,
			Policy:             RetryForever,
		}
		ep := net.NewEndpoint(id)
		node := NewNode(cfg, store, store, kvsm.New(), ep, raft.PersistentState{})
		ep.SetHandler(node.Handler())
		nodes[i] = node
	}

	ctx, cancel := context.WithCancel(context.Background())
	for _, node := range nodes {
		go node.Run(ctx)
	}

	tc := &testCluster{nodes: nodes, net: net, cancel: cancel}
	t.Cleanup(tc.stop)
	return tc
}

func (tc *testCluster) stop() {
	tc.cancel()
	for _, n := range tc.nodes {
		n.Stop()
	}
}

// waitFor polls cond until it returns true or timeout elapses, failing the
// test otherwise. There is no event to block on from outside a Node, so
// polling is the only option available to a blackbox caller.
func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for: %s", msg)
}

func (tc *testCluster) leader() *Node {
	for _, n := range tc.nodes {
		if n.IsLeader() {
			return n
		}
	}
	return nil
}

func (tc *testCluster) waitForLeader(t *testing.T, timeout time.Duration) *Node {
	t.Helper()
	var leader *Node
	waitFor(t, timeout, "a leader to emerge", func() bool {
		leader = tc.leader()
		return leader != nil
	})
	return leader
}

// TestCluster_ElectsALeader covers spec §8 scenario 1.
func TestCluster_ElectsALeader(t *testing.T) {
	tc := newTestCluster(t, 3)
	leader := tc.waitForLeader(t, 3*time.Second)
	require.NotNil(t, leader)

	term := leader.Term()
	for _, n := range tc.nodes {
		require.Equal(t, term, n.Term())
	}
}

// TestCluster_WriteReplicatesToAllFollowers covers spec §8 scenario 2.
func TestCluster_WriteReplicatesToAllFollowers(t *testing.T) {
	tc := newTestCluster(t, 3)
	leader := tc.waitForLeader(t, 3*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := leader.Submit(ctx, raft.RequestWrite, kvsm.Set("x", 1))
	require.NoError(t, err)
	require.Equal(t, raft.ResponseWrite, resp.Kind)

	for _, n := range tc.nodes {
		waitFor(t, 2*time.Second, "follower to apply the committed write", func() bool {
			snap, _ := n.RSMSnapshot().(kvsm.State)
			return snap["x"] == 1
		})
	}
}

// TestCluster_IncrementAppliesOnTopOfExistingValue covers spec §8 scenario 3.
func TestCluster_IncrementAppliesOnTopOfExistingValue(t *testing.T) {
	tc := newTestCluster(t, 3)
	leader := tc.waitForLeader(t, 3*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := leader.Submit(ctx, raft.RequestWrite, kvsm.Set("counter", 5))
	require.NoError(t, err)
	_, err = leader.Submit(ctx, raft.RequestWrite, kvsm.Incr("counter"))
	require.NoError(t, err)

	waitFor(t, 2*time.Second, "counter to reach 6", func() bool {
		snap, _ := leader.RSMSnapshot().(kvsm.State)
		return snap["counter"] == 6
	})
}

// TestCluster_MultipleIncrementsAccumulate covers spec §8 scenario 4.
func TestCluster_MultipleIncrementsAccumulate(t *testing.T) {
	tc := newTestCluster(t, 3)
	leader := tc.waitForLeader(t, 3*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	for i := 0; i < 5; i++ {
		_, err := leader.Submit(ctx, raft.RequestWrite, kvsm.Incr("counter"))
		require.NoError(t, err)
	}

	waitFor(t, 2*time.Second, "counter to reach 5", func() bool {
		snap, _ := leader.RSMSnapshot().(kvsm.State)
		return snap["counter"] == 5
	})
}

// TestCluster_FollowerRedirectsWriteToLeader covers spec §8 scenario 5.
func TestCluster_FollowerRedirectsWriteToLeader(t *testing.T) {
	tc := newTestCluster(t, 3)
	leader := tc.waitForLeader(t, 3*time.Second)

	var follower *Node
	for _, n := range tc.nodes {
		if n != leader {
			follower = n
			break
		}
	}
	require.NotNil(t, follower)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := follower.Submit(ctx, raft.RequestWrite, kvsm.Set("x", 1))
	require.ErrorIs(t, err, raft.ErrNotLeader)
}

// TestCluster_NoLeaderRedirect covers spec §8 scenario 6: a write submitted
// before any election has happened redirects with no known leader.
func TestCluster_NoLeaderRedirect(t *testing.T) {
	tc := newTestCluster(t, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := tc.nodes[1].Submit(ctx, raft.RequestWrite, kvsm.Set("x", 1))
	require.ErrorIs(t, err, raft.ErrNotLeader)
}

// TestCluster_LeaderChangeAfterPartition covers spec §8 scenario 7: the
// original leader is partitioned away, and the remaining majority elects a
// new one.
func TestCluster_LeaderChangeAfterPartition(t *testing.T) {
	tc := newTestCluster(t, 3)
	first := tc.waitForLeader(t, 3*time.Second)

	firstId := first.cfg.Raft.SelfId

	// Partition the current leader away from the rest of the cluster; the
	// remaining majority can no longer hear its heartbeats and will time
	// out into a new election.
	tc.net.Partition(firstId)

	var second *Node
	waitFor(t, 5*time.Second, "a new leader to emerge among the remaining majority", func() bool {
		for _, n := range tc.nodes {
			if n.cfg.Raft.SelfId != firstId && n.IsLeader() {
				second = n
				return true
			}
		}
		return false
	})
	require.NotNil(t, second)
	require.NotEqual(t, firstId, second.cfg.Raft.SelfId)
}

// TestCluster_LinearizableReadWaitsForHeartbeatQuorum covers spec §8
// scenario 8: a read reflects every write committed before it was issued.
func TestCluster_LinearizableReadWaitsForHeartbeatQuorum(t *testing.T) {
	tc := newTestCluster(t, 3)
	leader := tc.waitForLeader(t, 3*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := leader.Submit(ctx, raft.RequestWrite, kvsm.Set("x", 42))
	require.NoError(t, err)

	resp, err := leader.Submit(ctx, raft.RequestRead, nil)
	require.NoError(t, err)
	require.Equal(t, raft.ResponseRead, resp.Kind)
	snap := resp.Snapshot.(kvsm.State)
	require.Equal(t, int64(42), snap["x"])
}
