// Package raft implements the replicated consensus core: leader election,
// log replication, and command commitment across a cluster of peers talking
// by message passing. The wire transport, the user state machine's business
// logic, and cluster bootstrap live outside this package; see Peer,
// StateMachine, and cmd/raftd.
package raft

// NoVote marks a DurableState with no recorded vote in the current term.
const NoVote = -1

// Failed is the entry index carried in a CommandResponse whose command
// could not be accepted.
const Failed = -1

// Entry is one slot of the replicated log. Index 0 is a sentinel with term 0
// and no command; all real entries have Index >= 1 and strictly increasing
// indexes. Two entries with equal (Index, Term) must carry byte-equal
// Commands — the Raft log-matching invariant.
type Entry struct {
	Index   uint64
	Term    uint64
	Command *Command
}

// Command is an opaque payload carrying the identifier of the user state
// machine that applies it. The core never looks past Identifier; Payload is
// handed to the state machine verbatim.
type Command struct {
	Identifier string
	Payload    []byte
}

// MessageKind discriminates the six RPC kinds in the closed tagged union
// Message represents. Handlers exhaustively switch on this.
type MessageKind uint8

const (
	KindVoteRequest MessageKind = iota
	KindVoteResponse
	KindAppendRequest
	KindAppendResponse
	KindCommandRequest
	KindCommandResponse
)

func (k MessageKind) String() string {
	switch k {
	case KindVoteRequest:
		return "VoteRequest"
	case KindVoteResponse:
		return "VoteResponse"
	case KindAppendRequest:
		return "AppendRequest"
	case KindAppendResponse:
		return "AppendResponse"
	case KindCommandRequest:
		return "CommandRequest"
	case KindCommandResponse:
		return "CommandResponse"
	default:
		return "Unknown"
	}
}

// Message is the header common to every RPC kind, plus the one payload
// struct matching Kind. Exactly one of the payload fields is meaningful for
// a given Kind; handlers never need more than a type switch on Kind to know
// which.
type Message struct {
	SenderID uint64
	Term     uint64
	Kind     MessageKind

	VoteRequest     *VoteRequest
	VoteResponse    *VoteResponse
	AppendRequest   *AppendRequest
	AppendResponse  *AppendResponse
	CommandRequest  *CommandRequest
	CommandResponse *CommandResponse
}

// VoteRequest is a candidate's solicitation for a vote in Term.
type VoteRequest struct {
	LastLogIndex uint64
	LastLogTerm  uint64
}

// VoteResponse answers a VoteRequest.
type VoteResponse struct {
	Granted bool
}

// AppendRequest replicates zero or more entries (a heartbeat when Entries is
// empty) starting just after PrevLogIndex/PrevLogTerm.
type AppendRequest struct {
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []*Command
	LeaderCommit uint64
}

// AppendResponse answers an AppendRequest. On Ok, Index is the follower's
// last appended index. On rejection, Index is a resync hint the leader
// should restart catch-up from (entries_from(Index+1)) and is only
// meaningful when HasHint is true — a legitimate hint can be 0 (an empty
// follower), so HasHint distinguishes that from the two rejections that
// carry no hint at all: a request from a stale term, and a conflict at or
// below the follower's own commit index, a cluster safety violation the
// leader must not try to paper over.
type AppendResponse struct {
	Ok      bool
	Index   uint64
	HasHint bool
}

// CommandRequest carries a client command forwarded to the leader over the
// wire by a follower that received a local Submit for a leader it isn't.
// RequestID is a client-generated UUID string; HasReqID is false only when
// the original submission had no listener and so expects no response
// (§4.4's "respond... iff requested").
type CommandRequest struct {
	Command   *Command
	RequestID string
	HasReqID  bool
}

// CommandResponse answers a CommandRequest. EntryIndex is Failed if the
// command was rejected (unknown leader, not leader at submission time).
type CommandResponse struct {
	RequestID  string
	EntryIndex int64
}

// Role is one of the three Raft roles. Exactly one Role applies to a server
// at any instant.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	default:
		return "Unknown"
	}
}
