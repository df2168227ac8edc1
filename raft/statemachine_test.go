package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRouterDispatchesByIdentifier(t *testing.T) {
	router := NewRouter()
	a := &recordingMachine{}
	b := &recordingMachine{}
	router.Register("a", a)
	router.Register("b", b)

	router.Apply(&Command{Identifier: "a"})
	router.Apply(&Command{Identifier: "b"})

	require.Equal(t, []string{"a"}, a.applied)
	require.Equal(t, []string{"b"}, b.applied)
}

func TestRouterRegisterTwicePanics(t *testing.T) {
	router := NewRouter()
	router.Register("a", &recordingMachine{})
	require.Panics(t, func() { router.Register("a", &recordingMachine{}) })
}

func TestRouterApplyUnknownIdentifierPanics(t *testing.T) {
	router := NewRouter()
	require.Panics(t, func() { router.Apply(&Command{Identifier: "missing"}) })
}
