package raft

import "sync"

// Log is the ordered sequence of (index, term, command?) entries a server
// keeps, with durability, replay, truncation, and commit. Index 0 is always
// present as the term-0 sentinel with no command.
//
// LastIndex, LastTerm, and CommitIndex are safe to call concurrently with
// everything else; all other methods are called only under the role
// engine's lock (§5), so implementations need no internal locking of their
// own beyond what durability requires.
type Log interface {
	LastIndex() uint64
	LastTerm() uint64
	CommitIndex() uint64

	// HasEntry reports whether an entry exists at index with exactly
	// this term.
	HasEntry(index, term uint64) bool

	// TermAt returns the term of the entry at index, or ErrOutOfRange if
	// index is past LastIndex.
	TermAt(index uint64) (uint64, error)

	// Append adds command at LastIndex()+1 with the given term,
	// durably, before returning. Rejects term < LastTerm().
	Append(command *Command, term uint64) (index uint64, err error)

	// ValidateEntry is a no-op if index is past the end of the log, or
	// if the entry at index already has term. Otherwise it durably
	// truncates the log from index onward. Truncating at or below
	// CommitIndex() returns ErrLogDivergedPastCommit and changes
	// nothing.
	ValidateEntry(index, term uint64) error

	// Applied advances the commit pointer to min(upTo, LastIndex()),
	// applying every newly committed entry to the state machine in
	// ascending index order, exactly once, before returning.
	Applied(upTo uint64) error

	// EntriesFrom returns the commands from start through LastIndex(),
	// inclusive, for leader catch-up.
	EntriesFrom(start uint64) []*Command
}

// baseLog holds the bookkeeping shared by every Log implementation: the
// in-memory entry slice (always present, even for the durable variant,
// since every entry that's ever appended stays resident — log compaction is
// out of scope, §1) plus the apply sink and commit/applied indexes.
type baseLog struct {
	mu      sync.Mutex
	entries []Entry // entries[i].Index == uint64(i); entries[0] is the sentinel
	commit  uint64
	applier StateMachine
}

func newBaseLog(applier StateMachine) baseLog {
	return baseLog{
		entries: []Entry{{Index: 0, Term: 0, Command: nil}},
		applier: applier,
	}
}

func (b *baseLog) lastIndex() uint64 {
	return b.entries[len(b.entries)-1].Index
}

func (b *baseLog) lastTerm() uint64 {
	return b.entries[len(b.entries)-1].Term
}

func (b *baseLog) hasEntry(index, term uint64) bool {
	if index >= uint64(len(b.entries)) {
		return false
	}
	return b.entries[index].Term == term
}

func (b *baseLog) termAt(index uint64) (uint64, error) {
	if index >= uint64(len(b.entries)) {
		return 0, ErrOutOfRange
	}
	return b.entries[index].Term, nil
}

func (b *baseLog) entriesFrom(start uint64) []*Command {
	if start >= uint64(len(b.entries)) {
		return nil
	}
	out := make([]*Command, 0, uint64(len(b.entries))-start)
	for _, e := range b.entries[start:] {
		out = append(out, e.Command)
	}
	return out
}

// applyThrough applies entries[applied+1 .. upTo] in order, where applied is
// the index already reflected in the state machine (tracked separately from
// b.commit so a best-effort-durable commit index never causes a double
// apply after a crash — callers pass the in-memory watermark, not the
// persisted one).
func (b *baseLog) applyThrough(lastApplied *uint64, upTo uint64) {
	if upTo > b.lastIndex() {
		upTo = b.lastIndex()
	}
	for i := *lastApplied + 1; i <= upTo; i++ {
		if b.applier != nil && b.entries[i].Command != nil {
			b.applier.Apply(b.entries[i].Command)
		}
	}
	if upTo > *lastApplied {
		*lastApplied = upTo
	}
	if upTo > b.commit {
		b.commit = upTo
	}
}
