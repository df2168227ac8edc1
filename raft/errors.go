package raft

import "errors"

// Error kinds from §7. TransientReject conditions (stale term, vote
// refused, append mismatch) are not errors at all in this package — they're
// reported as a field on the response message and handled by the caller's
// own retry cadence.
var (
	// ErrInitError is returned by OpenDurableState when no state file
	// exists and no server id was supplied to create one.
	ErrInitError = errors.New("raft: no durable state and no server id supplied")

	// ErrStateMismatch is returned by OpenDurableState when an existing
	// state file's server id disagrees with the one supplied.
	ErrStateMismatch = errors.New("raft: durable state server id mismatch")

	// ErrDurabilityFailure wraps an fsync/write failure on a path the
	// design says should be fatal. Server treats it as fatal and halts
	// (§7's recommended reading, not the source's log-and-continue one;
	// see DESIGN.md open question).
	ErrDurabilityFailure = errors.New("raft: durability failure")

	// ErrLogDivergedPastCommit signals a follower observed a conflict at
	// or below its own commit index — a cluster safety violation. The
	// log refuses the truncation; the server logs loudly and stops.
	ErrLogDivergedPastCommit = errors.New("raft: log diverged at or below commit index")

	// ErrOutOfRange is returned by Log.TermAt for an index past the end
	// of the log.
	ErrOutOfRange = errors.New("raft: log index out of range")

	// ErrUnknownLeader is the reason a local Submit fails when no leader
	// is currently known.
	ErrUnknownLeader = errors.New("raft: no known leader")

	// ErrNotLeader is returned when Submit (or a forwarded command) lands
	// on a server that is not the leader.
	ErrNotLeader = errors.New("raft: not leader")

	// ErrShutdown is the reason a submitted command fails when the server
	// is no longer active at the time the command is processed.
	ErrShutdown = errors.New("raft: server shut down")

	// ErrTransientReject covers stale-term appends and similar conditions
	// the caller is expected to retry on its own cadence (§7). Log.Append
	// returns it when asked to append behind the log's current term.
	ErrTransientReject = errors.New("raft: transient reject")

	// ErrUnknownCommandTag is a hard failure: the router received a
	// command identifier with no registered state machine. Always a
	// programmer error, never recoverable at runtime.
	ErrUnknownCommandTag = errors.New("raft: unknown command identifier")
)
