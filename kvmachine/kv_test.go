package kvmachine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sentinel-raft/core/raft"
)

func apply(t *testing.T, kv *KV, op Op) {
	t.Helper()
	cmd, err := EncodeOp(op)
	require.NoError(t, err)
	require.Equal(t, Identifier, cmd.Identifier)
	kv.Apply(cmd)
}

func TestPutThenGet(t *testing.T) {
	kv := New()
	apply(t, kv, Op{Command: OpPut, ClientID: 1, RequestID: 1, Key: "x", Value: "1"})

	v, ok := kv.Lookup("x")
	require.True(t, ok)
	require.Equal(t, "1", v)
}

func TestAppendConcatenates(t *testing.T) {
	kv := New()
	apply(t, kv, Op{Command: OpPut, ClientID: 1, RequestID: 1, Key: "x", Value: "a"})
	apply(t, kv, Op{Command: OpAppend, ClientID: 1, RequestID: 2, Key: "x", Value: "b"})

	v, _ := kv.Lookup("x")
	require.Equal(t, "ab", v)
}

func TestDuplicateRequestIsIgnored(t *testing.T) {
	kv := New()
	apply(t, kv, Op{Command: OpPut, ClientID: 1, RequestID: 5, Key: "x", Value: "a"})
	// A retried request with the same or lower id must not re-apply.
	apply(t, kv, Op{Command: OpPut, ClientID: 1, RequestID: 5, Key: "x", Value: "b"})

	v, _ := kv.Lookup("x")
	require.Equal(t, "a", v)
}

func TestGetOfMissingKey(t *testing.T) {
	kv := New()
	apply(t, kv, Op{Command: OpGet, ClientID: 1, RequestID: 1, Key: "missing"})

	value, ok := kv.LastResult(1)
	require.True(t, ok)
	require.Equal(t, "", value)
}

func TestClientsAreIndependent(t *testing.T) {
	kv := New()
	apply(t, kv, Op{Command: OpPut, ClientID: 1, RequestID: 1, Key: "x", Value: "a"})
	apply(t, kv, Op{Command: OpPut, ClientID: 2, RequestID: 1, Key: "x", Value: "b"})

	v, _ := kv.Lookup("x")
	require.Equal(t, "b", v)
}

func TestApplyIgnoresUndecodablePayload(t *testing.T) {
	kv := New()
	require.NotPanics(t, func() {
		kv.Apply(&raft.Command{Identifier: Identifier, Payload: []byte("not gob")})
	})
}
