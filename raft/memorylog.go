package raft

// MemoryLog is the non-durable Log variant: an in-memory entry list with no
// backing file. Acceptable for tests (§4.2); a restart loses everything.
type MemoryLog struct {
	baseLog
	lastApplied uint64
}

// NewMemoryLog returns an empty log applying committed entries to applier.
// applier may be nil for tests that only exercise log mechanics.
func NewMemoryLog(applier StateMachine) *MemoryLog {
	return &MemoryLog{baseLog: newBaseLog(applier)}
}

func (l *MemoryLog) LastIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastIndex()
}

func (l *MemoryLog) LastTerm() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastTerm()
}

func (l *MemoryLog) CommitIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commit
}

func (l *MemoryLog) HasEntry(index, term uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasEntry(index, term)
}

func (l *MemoryLog) TermAt(index uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.termAt(index)
}

func (l *MemoryLog) Append(command *Command, term uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if term < l.lastTerm() {
		return 0, ErrTransientReject
	}
	index := l.lastIndex() + 1
	l.entries = append(l.entries, Entry{Index: index, Term: term, Command: command})
	return index, nil
}

func (l *MemoryLog) ValidateEntry(index, term uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index >= uint64(len(l.entries)) {
		return nil
	}
	if l.entries[index].Term == term {
		return nil
	}
	if index <= l.commit {
		return ErrLogDivergedPastCommit
	}
	l.entries = l.entries[:index]
	return nil
}

func (l *MemoryLog) Applied(upTo uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applyThrough(&l.lastApplied, upTo)
	return nil
}

func (l *MemoryLog) EntriesFrom(start uint64) []*Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entriesFrom(start)
}
