package raft

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sentinel-raft/core/raft/codec"
	"go.uber.org/zap"
)

// recordOffset is the byte offset in the log file where one entry's record
// begins. DurableLog keeps these offsets as a plain []int64 (its offsets
// field), which ValidateEntry uses to truncate the file precisely (§4.2's
// "seeking to the truncated offset, then truncating").
type recordOffset struct {
	offset int64
}

// DurableLog is the production Log variant: every append and truncate is
// durably persisted to a single file (commands) before the call returns,
// per the format in §6 — a leading version u64, then a stream of
// (index, term, length, blob) records.
type DurableLog struct {
	baseLog
	lastApplied uint64

	path    string
	file    *os.File
	offsets []int64 // offsets[i] is entries[i]'s record start; offsets[0] is just past the version tag
	log     *zap.SugaredLogger
}

// OpenDurableLog opens or creates logDir/commands, replaying any existing
// records into the entry list (but not applying them — callers replay
// commit via Applied once the caller knows the persisted commit index).
func OpenDurableLog(logDir string, applier StateMachine, log *zap.SugaredLogger) (*DurableLog, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("raft: create log dir: %w", err)
	}
	path := filepath.Join(logDir, "commands")

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("raft: open durable log: %w", err)
	}

	dl := &DurableLog{
		baseLog: newBaseLog(applier),
		path:    path,
		file:    f,
		log:     log,
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		if err := codec.WriteVersion(f); err != nil {
			f.Close()
			return nil, err
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, err
		}
		dl.offsets = []int64{8}
		return dl, nil
	}

	if err := dl.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return dl, nil
}

// replay reads every record from disk into the in-memory entry list. It
// does not apply anything to the state machine; the server does that once
// it knows the durable commit index, via Applied.
func (dl *DurableLog) replay() error {
	if _, err := dl.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := codec.ReadVersion(dl.file); err != nil {
		return fmt.Errorf("raft: durable log: %w", err)
	}
	dl.offsets = []int64{8}

	for {
		offset, err := dl.file.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		index, term, blob, err := codec.ReadRecord(dl.file)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("raft: durable log: replay: %w", err)
		}
		var cmd *Command
		if blob != nil {
			cmd = &Command{}
			if err := codec.DecodeValue(blob, cmd); err != nil {
				return fmt.Errorf("raft: durable log: decode record at index %d: %w", index, err)
			}
		}
		dl.entries = append(dl.entries, Entry{Index: index, Term: term, Command: cmd})
		dl.offsets = append(dl.offsets, offset)
	}
	return nil
}

func (dl *DurableLog) LastIndex() uint64 {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.lastIndex()
}

func (dl *DurableLog) LastTerm() uint64 {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.lastTerm()
}

func (dl *DurableLog) CommitIndex() uint64 {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.commit
}

func (dl *DurableLog) HasEntry(index, term uint64) bool {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.hasEntry(index, term)
}

func (dl *DurableLog) TermAt(index uint64) (uint64, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.termAt(index)
}

// Append durably persists the new entry before returning, appending its
// record at the end of the file and fsyncing.
func (dl *DurableLog) Append(command *Command, term uint64) (uint64, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	if term < dl.lastTerm() {
		return 0, ErrTransientReject
	}
	index := dl.lastIndex() + 1

	var blob []byte
	if command != nil {
		var err error
		blob, err = codec.EncodeValue(command)
		if err != nil {
			return 0, err
		}
	}

	offset, err := dl.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDurabilityFailure, err)
	}
	if err := codec.WriteRecord(dl.file, index, term, blob); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDurabilityFailure, err)
	}
	if err := dl.file.Sync(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDurabilityFailure, err)
	}

	dl.entries = append(dl.entries, Entry{Index: index, Term: term, Command: command})
	dl.offsets = append(dl.offsets, offset)
	return index, nil
}

// ValidateEntry truncates the file at the byte offset recorded for index,
// then truncates the in-memory slice to match, fsyncing the file
// afterward. Refuses to truncate at or below the commit index.
func (dl *DurableLog) ValidateEntry(index, term uint64) error {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	if index >= uint64(len(dl.entries)) {
		return nil
	}
	if dl.entries[index].Term == term {
		return nil
	}
	if index <= dl.commit {
		dl.log.Errorw("refusing to truncate log at or below commit index",
			"index", index, "commitIndex", dl.commit)
		return ErrLogDivergedPastCommit
	}

	offset := dl.offsets[index]
	if err := dl.file.Truncate(offset); err != nil {
		return fmt.Errorf("%w: %v", ErrDurabilityFailure, err)
	}
	if _, err := dl.file.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %v", ErrDurabilityFailure, err)
	}
	if err := dl.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrDurabilityFailure, err)
	}

	dl.entries = dl.entries[:index]
	dl.offsets = dl.offsets[:index]
	return nil
}

func (dl *DurableLog) Applied(upTo uint64) error {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	dl.applyThrough(&dl.lastApplied, upTo)
	return nil
}

func (dl *DurableLog) EntriesFrom(start uint64) []*Command {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.entriesFrom(start)
}

// ReplayCommitted applies every entry up to upTo into the state machine
// without persisting anything — used once at startup after OpenDurableLog,
// with upTo taken from the server's durable commit index, so a fresh
// StateMachine ends up identical to the one running before a restart (§8's
// round-trip property).
func (dl *DurableLog) ReplayCommitted(upTo uint64) error {
	return dl.Applied(upTo)
}

// Close releases the underlying file handle.
func (dl *DurableLog) Close() error {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.file.Close()
}
