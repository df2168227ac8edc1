package raft

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// durableStateVersion is the version tag written at the head of
// server.state, matching codec.Version in spirit but kept local since the
// five-u64 record layout here is §6's, not codec's length-prefixed one.
const durableStateVersion uint64 = 1

// stateRecordSize is five big-endian u64s: version, server_id, current_term,
// commit_index, last_voted_id (NoVote == -1, stored as ^uint64(0)).
const stateRecordSize = 5 * 8

// DurableState persists (current_term, voted_for, commit_index) for one
// server, atomically and in place. update_current_term and update_voted_for
// fsync before returning; update_commit_index is best-effort (§4.1 — the
// commit index is recoverable by replaying the log).
type DurableState struct {
	mu sync.Mutex

	path string
	file *os.File
	log  *zap.SugaredLogger

	serverID    uint64
	currentTerm uint64
	votedFor    int64 // NoVote (-1) or a peer id
	commitIndex uint64
}

// OpenDurableState opens or creates server.state under dir. If the file
// exists, its stored server_id must match serverID when serverID is
// non-nil; a mismatch is StateMismatch. If the file does not exist and
// serverID is nil, that's InitError.
func OpenDurableState(dir string, serverID *uint64, log *zap.SugaredLogger) (*DurableState, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	path := filepath.Join(dir, "server.state")

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("raft: open durable state: %w", err)
	}

	ds := &DurableState{path: path, file: f, log: log}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if info.Size() == 0 {
		if serverID == nil {
			f.Close()
			return nil, ErrInitError
		}
		ds.serverID = *serverID
		ds.votedFor = NoVote
		if err := ds.writeLocked(); err != nil {
			f.Close()
			return nil, err
		}
		return ds, nil
	}

	if err := ds.readLocked(); err != nil {
		f.Close()
		return nil, err
	}
	if serverID != nil && *serverID != ds.serverID {
		f.Close()
		return nil, ErrStateMismatch
	}
	return ds, nil
}

func (ds *DurableState) readLocked() error {
	var buf [stateRecordSize]byte
	if _, err := ds.file.ReadAt(buf[:], 0); err != nil {
		return fmt.Errorf("raft: read durable state: %w", err)
	}
	version := binary.BigEndian.Uint64(buf[0:8])
	if version != durableStateVersion {
		return fmt.Errorf("raft: unsupported server.state version %d", version)
	}
	ds.serverID = binary.BigEndian.Uint64(buf[8:16])
	ds.currentTerm = binary.BigEndian.Uint64(buf[16:24])
	ds.commitIndex = binary.BigEndian.Uint64(buf[24:32])
	ds.votedFor = int64(binary.BigEndian.Uint64(buf[32:40]))
	return nil
}

// writeLocked overwrites the whole fixed-size record in place and fsyncs.
// Callers must hold mu.
func (ds *DurableState) writeLocked() error {
	var buf [stateRecordSize]byte
	binary.BigEndian.PutUint64(buf[0:8], durableStateVersion)
	binary.BigEndian.PutUint64(buf[8:16], ds.serverID)
	binary.BigEndian.PutUint64(buf[16:24], ds.currentTerm)
	binary.BigEndian.PutUint64(buf[24:32], ds.commitIndex)
	binary.BigEndian.PutUint64(buf[32:40], uint64(ds.votedFor))
	if _, err := ds.file.WriteAt(buf[:], 0); err != nil {
		return fmt.Errorf("raft: write durable state: %w", err)
	}
	return ds.file.Sync()
}

// ServerID returns the id this state file was created or opened with.
func (ds *DurableState) ServerID() uint64 {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.serverID
}

// CurrentTerm returns the persisted current term.
func (ds *DurableState) CurrentTerm() uint64 {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.currentTerm
}

// VotedFor returns the persisted vote, or NoVote.
func (ds *DurableState) VotedFor() int64 {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.votedFor
}

// CommitIndex returns the last durably-recorded commit index (best-effort;
// may lag the in-memory one).
func (ds *DurableState) CommitIndex() uint64 {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.commitIndex
}

// UpdateCurrentTerm persists a new term. A no-op if t equals the current
// term; otherwise clears votedFor (mandatory per §4.1) before fsyncing.
func (ds *DurableState) UpdateCurrentTerm(t uint64) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if t == ds.currentTerm {
		return nil
	}
	ds.currentTerm = t
	ds.votedFor = NoVote
	if err := ds.writeLocked(); err != nil {
		return fmt.Errorf("%w: %v", ErrDurabilityFailure, err)
	}
	return nil
}

// UpdateVotedFor persists a vote. Idempotent: calling it again with the
// same id re-fsyncs but changes nothing.
func (ds *DurableState) UpdateVotedFor(id int64) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.votedFor = id
	if err := ds.writeLocked(); err != nil {
		return fmt.Errorf("%w: %v", ErrDurabilityFailure, err)
	}
	return nil
}

// UpdateCommitIndex persists the commit index best-effort. A write failure
// is logged, not propagated: the commit index is recoverable by replaying
// the log on restart.
func (ds *DurableState) UpdateCommitIndex(i uint64) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.commitIndex = i
	if err := ds.writeLocked(); err != nil {
		ds.log.Errorw("durable state: commit index write failed, continuing", "index", i, "error", err)
	}
}

// Close releases the underlying file handle.
func (ds *DurableState) Close() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.file.Close()
}
