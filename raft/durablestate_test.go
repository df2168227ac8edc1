package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenDurableStateRequiresServerIDWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenDurableState(dir, nil, nil)
	require.ErrorIs(t, err, ErrInitError)
}

func TestOpenDurableStateInitializesFresh(t *testing.T) {
	dir := t.TempDir()
	id := uint64(7)
	ds, err := OpenDurableState(dir, &id, nil)
	require.NoError(t, err)
	defer ds.Close()

	require.Equal(t, uint64(7), ds.ServerID())
	require.Equal(t, uint64(0), ds.CurrentTerm())
	require.Equal(t, int64(NoVote), ds.VotedFor())
}

func TestDurableStatePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	id := uint64(3)

	ds, err := OpenDurableState(dir, &id, nil)
	require.NoError(t, err)
	require.NoError(t, ds.UpdateCurrentTerm(5))
	require.NoError(t, ds.UpdateVotedFor(2))
	ds.UpdateCommitIndex(9)
	require.NoError(t, ds.Close())

	reopened, err := OpenDurableState(dir, &id, nil)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, uint64(5), reopened.CurrentTerm())
	require.Equal(t, int64(2), reopened.VotedFor())
	require.Equal(t, uint64(9), reopened.CommitIndex())
}

func TestDurableStateRejectsServerIDMismatch(t *testing.T) {
	dir := t.TempDir()
	id := uint64(1)
	ds, err := OpenDurableState(dir, &id, nil)
	require.NoError(t, err)
	require.NoError(t, ds.Close())

	other := uint64(2)
	_, err = OpenDurableState(dir, &other, nil)
	require.ErrorIs(t, err, ErrStateMismatch)
}

func TestUpdateCurrentTermClearsVotedFor(t *testing.T) {
	dir := t.TempDir()
	id := uint64(1)
	ds, err := OpenDurableState(dir, &id, nil)
	require.NoError(t, err)
	defer ds.Close()

	require.NoError(t, ds.UpdateVotedFor(9))
	require.NoError(t, ds.UpdateCurrentTerm(2))
	require.Equal(t, int64(NoVote), ds.VotedFor())
}
