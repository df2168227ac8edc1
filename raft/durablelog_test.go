package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDurableLogAppendAndReplay(t *testing.T) {
	dir := t.TempDir()

	dl, err := OpenDurableLog(dir, nil, nil)
	require.NoError(t, err)
	_, err = dl.Append(&Command{Identifier: "a", Payload: []byte("1")}, 1)
	require.NoError(t, err)
	_, err = dl.Append(&Command{Identifier: "b", Payload: []byte("2")}, 1)
	require.NoError(t, err)
	require.NoError(t, dl.Close())

	reopened, err := OpenDurableLog(dir, nil, nil)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, uint64(2), reopened.LastIndex())
	require.Equal(t, uint64(1), reopened.LastTerm())
	require.True(t, reopened.HasEntry(1, 1))
	require.True(t, reopened.HasEntry(2, 1))
}

func TestDurableLogReplayCommittedAppliesOnStartup(t *testing.T) {
	dir := t.TempDir()

	dl, err := OpenDurableLog(dir, nil, nil)
	require.NoError(t, err)
	dl.Append(&Command{Identifier: "a"}, 1)
	dl.Append(&Command{Identifier: "b"}, 1)
	require.NoError(t, dl.Close())

	machine := &recordingMachine{}
	reopened, err := OpenDurableLog(dir, machine, nil)
	require.NoError(t, err)
	defer reopened.Close()

	require.NoError(t, reopened.ReplayCommitted(1))
	require.Equal(t, []string{"a"}, machine.applied)
}

func TestDurableLogValidateEntryTruncatesFile(t *testing.T) {
	dir := t.TempDir()
	dl, err := OpenDurableLog(dir, nil, nil)
	require.NoError(t, err)
	defer dl.Close()

	dl.Append(&Command{Identifier: "a"}, 1)
	dl.Append(&Command{Identifier: "b"}, 1)
	dl.Append(&Command{Identifier: "c"}, 1)

	require.NoError(t, dl.ValidateEntry(2, 2))
	require.Equal(t, uint64(1), dl.LastIndex())

	dl2, err := OpenDurableLog(dir, nil, nil)
	require.NoError(t, err)
	defer dl2.Close()
	require.Equal(t, uint64(1), dl2.LastIndex(), "truncation must survive reopen")
}

func TestDurableLogValidateEntryRefusesBelowCommit(t *testing.T) {
	dir := t.TempDir()
	dl, err := OpenDurableLog(dir, nil, nil)
	require.NoError(t, err)
	defer dl.Close()

	dl.Append(&Command{Identifier: "a"}, 1)
	dl.Append(&Command{Identifier: "b"}, 1)
	require.NoError(t, dl.Applied(2))

	err = dl.ValidateEntry(1, 2)
	require.ErrorIs(t, err, ErrLogDivergedPastCommit)
}
