package raft

// LocalPeer is the in-process Peer implementation used by cmd/raftd's
// single-binary demo and by tests that wire up a cluster without a real
// transport: Invoke/Send hand straight to the target Server's Accept/Submit,
// skipping serialization entirely. A networked deployment would replace
// this with a gRPC or HTTP-backed Peer grounded on the same interface.
type LocalPeer struct {
	id     uint64
	target *Server
}

// NewLocalPeer wraps target so it can be reached through the Peer
// interface under id.
func NewLocalPeer(id uint64, target *Server) *LocalPeer {
	return &LocalPeer{id: id, target: target}
}

func (p *LocalPeer) ID() uint64 { return p.id }

func (p *LocalPeer) Invoke(msg *Message) { p.target.Accept(msg) }

func (p *LocalPeer) Send(command *Command, listener Listener) { p.target.Submit(command, listener) }

func (p *LocalPeer) Start() {}
