package raft

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sentinel-raft/core/raft/codec"
)

type recordingPeer struct {
	id      uint64
	started int
	invoked int
}

func (p *recordingPeer) ID() uint64             { return p.id }
func (p *recordingPeer) Invoke(*Message)        { p.invoked++ }
func (p *recordingPeer) Send(*Command, Listener) {}
func (p *recordingPeer) Start()                 { p.started++ }

func TestStaticMembershipFindReturnsUnavailableForUnknownID(t *testing.T) {
	m := NewStaticMembership(nil)
	peer := m.Find(9)
	require.Equal(t, uint64(9), peer.ID())

	listener := NewChanListener()
	peer.Send(&Command{}, listener)
	require.False(t, <-listener.Done, "unavailable peer must fail any send")
	require.ErrorIs(t, listener.Err, ErrNotLeader)
}

func TestStaticMembershipBroadcastSkipsSender(t *testing.T) {
	a := &recordingPeer{id: 1}
	b := &recordingPeer{id: 2}
	m := NewStaticMembership([]Peer{a, b})

	m.BroadcastExceptSender(1, &Message{})
	require.Equal(t, 0, a.invoked)
	require.Equal(t, 1, b.invoked)
}

func TestStaticMembershipSetPeersReplacesBoundSet(t *testing.T) {
	a := &recordingPeer{id: 1}
	m := NewStaticMembership([]Peer{a})
	require.Equal(t, 1, m.Count())

	b := &recordingPeer{id: 2}
	m.SetPeers([]Peer{b})
	require.Equal(t, 1, m.Count())
	require.Equal(t, uint64(2), m.Find(2).ID())
	_, ok := m.Find(1).(*recordingPeer)
	require.False(t, ok, "the old peer set must be gone after SetPeers")
}

func TestDynamicMembershipPromotesPendingPeerOnAddServerCommit(t *testing.T) {
	self := &recordingPeer{id: 1}
	m := NewDynamicMembership(self, nil)
	require.Equal(t, 1, m.Count())

	joining := &recordingPeer{id: 2}
	m.RegisterPending(2, joining)
	require.Same(t, joining, findPeer(m, 2), "a pending peer is reachable through Find before it commits")
	require.Equal(t, 1, m.Count(), "a pending peer does not count toward membership")

	payload, err := codec.EncodeValue(AddServer{ID: 2, Address: "localhost:9002"})
	require.NoError(t, err)
	m.Apply(&Command{Identifier: "membership.add", Payload: payload})

	require.Equal(t, 2, m.Count())
	require.Equal(t, 1, joining.started, "a newly promoted peer's Start must be called exactly once")
	require.Same(t, joining, m.Find(2))
}

func TestDynamicMembershipPromoteIsIdempotent(t *testing.T) {
	self := &recordingPeer{id: 1}
	joining := &recordingPeer{id: 2}
	m := NewDynamicMembership(self, nil)
	m.RegisterPending(2, joining)

	payload, err := codec.EncodeValue(AddServer{ID: 2, Address: "localhost:9002"})
	require.NoError(t, err)
	m.Apply(&Command{Identifier: "membership.add", Payload: payload})
	m.Apply(&Command{Identifier: "membership.add", Payload: payload})

	require.Equal(t, 1, joining.started, "re-applying a commit for an already-committed id must not restart it")
}

func TestDynamicMembershipRemoveServerDemotesToUnavailable(t *testing.T) {
	self := &recordingPeer{id: 1}
	other := &recordingPeer{id: 2}
	m := NewDynamicMembership(self, nil)
	m.RegisterPending(2, other)
	addPayload, err := codec.EncodeValue(AddServer{ID: 2, Address: "x"})
	require.NoError(t, err)
	m.Apply(&Command{Identifier: "membership.add", Payload: addPayload})
	require.Equal(t, 2, m.Count())

	rmPayload, err := codec.EncodeValue(RemoveServer{ID: 2})
	require.NoError(t, err)
	m.Apply(&Command{Identifier: "membership.remove", Payload: rmPayload})

	require.Equal(t, 1, m.Count())
	_, ok := m.Find(2).(*unavailablePeer)
	require.True(t, ok, "a removed member's id must resolve to the unavailable sentinel")
}

func findPeer(m *DynamicMembership, id uint64) Peer {
	return m.Find(id)
}
