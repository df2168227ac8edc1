package raft

import (
	"sync"

	"github.com/sentinel-raft/core/raft/codec"
)

func decodeMembershipPayload(payload []byte, v interface{}) error {
	return codec.DecodeValue(payload, v)
}

// Peer is the input seam's counterpart from the server's point of view: the
// membership view's handle on one other cluster member. A transport
// implementation supplies Peer; the core never opens a socket itself.
type Peer interface {
	// ID is the peer's server id.
	ID() uint64
	// Invoke hands msg off to the peer asynchronously; the peer's own
	// reply comes back later as an inbound Message on this server.
	Invoke(msg *Message)
	// Send hands a client command directly to this peer, the way an
	// external client library submits work to a cluster member it holds
	// a handle to. listener may be nil for a fire-and-forget submission.
	Send(command *Command, listener Listener)
	// Start is called exactly once, when a pending peer is promoted
	// into committed membership (§4.5, dynamic form).
	Start()
}

// Membership is the contract §4.5 specifies: the current peer set, plus
// directed send and broadcast-except-self.
type Membership interface {
	// Count is the current member count the consensus tracker uses for
	// majority arithmetic.
	Count() int
	// Find returns the peer bound to id, or a sentinel "unavailable"
	// peer if id is known (e.g. from the committed log) but not yet, or
	// no longer, bound to a transport endpoint.
	Find(id uint64) Peer
	// BroadcastExceptSender invokes msg on every member except
	// senderID.
	BroadcastExceptSender(senderID uint64, msg *Message)
	// Servers returns every currently bound peer.
	Servers() []Peer
}

// unavailablePeer is returned by Find for an id with no live transport
// binding. Send fails immediately; Invoke is a no-op (there is nowhere to
// deliver to).
type unavailablePeer struct {
	id uint64
}

func (p *unavailablePeer) ID() uint64 { return p.id }
func (p *unavailablePeer) Invoke(*Message) {
}
func (p *unavailablePeer) Send(_ *Command, listener Listener) {
	// No live peer can be the current leader, so a direct Send against
	// the sentinel fails the same way a forwarded command does when it
	// lands on a server that isn't the leader.
	if listener != nil {
		listener.CommandFailed(ErrNotLeader)
	}
}
func (p *unavailablePeer) Start() {}

// NewUnreachablePeer returns a Peer that counts toward Membership.Count's
// majority arithmetic for id but can never deliver anything — a stand-in
// for a configured cluster member no transport has been wired to yet.
func NewUnreachablePeer(id uint64) Peer {
	return &unavailablePeer{id: id}
}

// StaticMembership is a fixed peer map known at construction — the common
// case for a cluster whose member set doesn't change over its lifetime.
type StaticMembership struct {
	mu    sync.RWMutex
	peers map[uint64]Peer
}

// NewStaticMembership returns a membership view over peers, keyed by
// Peer.ID().
func NewStaticMembership(peers []Peer) *StaticMembership {
	m := &StaticMembership{peers: make(map[uint64]Peer, len(peers))}
	for _, p := range peers {
		m.peers[p.ID()] = p
	}
	return m
}

func (m *StaticMembership) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}

func (m *StaticMembership) Find(id uint64) Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.peers[id]; ok {
		return p
	}
	return &unavailablePeer{id: id}
}

func (m *StaticMembership) BroadcastExceptSender(senderID uint64, msg *Message) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, p := range m.peers {
		if id == senderID {
			continue
		}
		p.Invoke(msg)
	}
}

func (m *StaticMembership) Servers() []Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}

// SetPeers replaces the bound peer set. It exists for bootstrap sequences
// where each cluster member's Peer handle (e.g. a LocalPeer wrapping a
// *Server) can only be constructed after every Server already exists —
// build every StaticMembership empty first, construct the servers, then
// wire each membership's peers in a second pass.
func (m *StaticMembership) SetPeers(peers []Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers = make(map[uint64]Peer, len(peers))
	for _, p := range peers {
		m.peers[p.ID()] = p
	}
}

// AddServer is the command payload (carried under identifier
// "membership.add") that adds a peer to a DynamicMembership once it commits.
type AddServer struct {
	ID      uint64
	Address string
}

// RemoveServer is the command payload (carried under identifier
// "membership.remove") that removes a peer from a DynamicMembership once it
// commits.
type RemoveServer struct {
	ID uint64
}

// DynamicMembership implements StateMachine so that AddServer/RemoveServer
// commands replicated through the log mutate membership (§4.5). A peer
// whose transport instance exists but hasn't yet committed into membership
// lives in the pending map; Find checks committed first, then pending.
// When a pending peer is promoted to committed, its Start is called
// exactly once.
type DynamicMembership struct {
	mu        sync.RWMutex
	committed map[uint64]Peer
	pending   map[uint64]Peer
	connect   func(id uint64, address string) Peer
}

// NewDynamicMembership returns a membership view with self as the sole
// initial committed member. connect is used to materialize a Peer for an
// AddServer command's address; tests may supply a fake.
func NewDynamicMembership(self Peer, connect func(id uint64, address string) Peer) *DynamicMembership {
	m := &DynamicMembership{
		committed: map[uint64]Peer{self.ID(): self},
		pending:   make(map[uint64]Peer),
		connect:   connect,
	}
	return m
}

// RegisterPending binds a transport endpoint for id before it has committed
// into membership — e.g. a newly dialed connection awaiting its AddServer
// command to land in the log.
func (m *DynamicMembership) RegisterPending(id uint64, p Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, already := m.committed[id]; already {
		return
	}
	m.pending[id] = p
}

func (m *DynamicMembership) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.committed)
}

func (m *DynamicMembership) Find(id uint64) Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.committed[id]; ok {
		return p
	}
	if p, ok := m.pending[id]; ok {
		return p
	}
	return &unavailablePeer{id: id}
}

func (m *DynamicMembership) BroadcastExceptSender(senderID uint64, msg *Message) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, p := range m.committed {
		if id == senderID {
			continue
		}
		p.Invoke(msg)
	}
}

func (m *DynamicMembership) Servers() []Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Peer, 0, len(m.committed))
	for _, p := range m.committed {
		out = append(out, p)
	}
	return out
}

// Apply implements StateMachine so the router can dispatch AddServer and
// RemoveServer commands (identifiers "membership.add" and
// "membership.remove") straight into
// membership once they commit.
func (m *DynamicMembership) Apply(command *Command) {
	switch command.Identifier {
	case "membership.add":
		var add AddServer
		if err := decodeMembershipPayload(command.Payload, &add); err != nil {
			return
		}
		m.promote(add)
	case "membership.remove":
		var rm RemoveServer
		if err := decodeMembershipPayload(command.Payload, &rm); err != nil {
			return
		}
		m.demote(rm.ID)
	}
}

func (m *DynamicMembership) promote(add AddServer) {
	m.mu.Lock()
	p, pending := m.pending[add.ID]
	if !pending {
		if m.connect == nil {
			m.mu.Unlock()
			return
		}
		p = m.connect(add.ID, add.Address)
	} else {
		delete(m.pending, add.ID)
	}
	_, alreadyCommitted := m.committed[add.ID]
	m.committed[add.ID] = p
	m.mu.Unlock()

	if !alreadyCommitted {
		p.Start()
	}
}

func (m *DynamicMembership) demote(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.committed, id)
	delete(m.pending, id)
}
