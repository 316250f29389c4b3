package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuorum(t *testing.T) {
	rq := require.New(t)

	rq.Equal(1, Quorum(1))
	rq.Equal(2, Quorum(2))
	rq.Equal(2, Quorum(3))
	rq.Equal(3, Quorum(4))
	rq.Equal(3, Quorum(5))
}

func TestLeaderRef(t *testing.T) {
	rq := require.New(t)

	none := NoLeader()
	rq.False(none.Known())

	known := KnownLeader(NodeId("n0"))
	rq.True(known.Known())
	rq.Equal(NodeId("n0"), known.ID())
}
