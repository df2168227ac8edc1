package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// recordingMachine records every applied command's identifier, in order,
// so tests can assert exactly-once-in-order application.
type recordingMachine struct {
	applied []string
}

func (m *recordingMachine) Apply(command *Command) {
	m.applied = append(m.applied, command.Identifier)
}

func TestMemoryLogAppendAndHasEntry(t *testing.T) {
	log := NewMemoryLog(nil)
	idx, err := log.Append(&Command{Identifier: "a"}, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), idx)
	require.True(t, log.HasEntry(1, 1))
	require.False(t, log.HasEntry(1, 2))
	require.Equal(t, uint64(1), log.LastIndex())
	require.Equal(t, uint64(1), log.LastTerm())
}

func TestMemoryLogAppendRejectsStaleTerm(t *testing.T) {
	log := NewMemoryLog(nil)
	_, err := log.Append(&Command{Identifier: "a"}, 2)
	require.NoError(t, err)
	_, err = log.Append(&Command{Identifier: "b"}, 1)
	require.ErrorIs(t, err, ErrTransientReject)
}

func TestMemoryLogValidateEntryTruncates(t *testing.T) {
	log := NewMemoryLog(nil)
	log.Append(&Command{Identifier: "a"}, 1)
	log.Append(&Command{Identifier: "b"}, 1)
	log.Append(&Command{Identifier: "c"}, 1)

	require.NoError(t, log.ValidateEntry(2, 2))
	require.Equal(t, uint64(1), log.LastIndex())
}

func TestMemoryLogValidateEntryRefusesBelowCommit(t *testing.T) {
	log := NewMemoryLog(nil)
	log.Append(&Command{Identifier: "a"}, 1)
	log.Append(&Command{Identifier: "b"}, 1)
	require.NoError(t, log.Applied(2))

	err := log.ValidateEntry(1, 2)
	require.ErrorIs(t, err, ErrLogDivergedPastCommit)
	require.Equal(t, uint64(2), log.LastIndex(), "a refused truncation must not change the log")
}

func TestMemoryLogAppliedIsInOrderAndOnce(t *testing.T) {
	machine := &recordingMachine{}
	log := NewMemoryLog(machine)
	log.Append(&Command{Identifier: "a"}, 1)
	log.Append(&Command{Identifier: "b"}, 1)
	log.Append(&Command{Identifier: "c"}, 1)

	require.NoError(t, log.Applied(2))
	require.Equal(t, []string{"a", "b"}, machine.applied)

	require.NoError(t, log.Applied(3))
	require.Equal(t, []string{"a", "b", "c"}, machine.applied)

	// Re-applying the same watermark must not re-apply anything.
	require.NoError(t, log.Applied(2))
	require.Equal(t, []string{"a", "b", "c"}, machine.applied)
}

func TestMemoryLogAppliedClampsToLastIndex(t *testing.T) {
	machine := &recordingMachine{}
	log := NewMemoryLog(machine)
	log.Append(&Command{Identifier: "a"}, 1)

	require.NoError(t, log.Applied(50))
	require.Equal(t, uint64(1), log.CommitIndex())
}

func TestMemoryLogEntriesFrom(t *testing.T) {
	log := NewMemoryLog(nil)
	log.Append(&Command{Identifier: "a"}, 1)
	log.Append(&Command{Identifier: "b"}, 1)

	entries := log.EntriesFrom(2)
	require.Len(t, entries, 1)
	require.Equal(t, "b", entries[0].Identifier)
}
