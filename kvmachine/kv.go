// Package kvmachine is the reference StateMachine (§10): an in-memory
// key-value store applied from the replicated log the same way
// ReshiAdavan-Sentinel/kvraft's KVServer.applyOp consumed its Raft's
// applyCh, minus the RPC server and the snapshotting — here Apply runs
// synchronously off raft.Log.Applied, and log compaction is out of scope.
package kvmachine

import (
	"sync"

	"github.com/sentinel-raft/core/raft"
	"github.com/sentinel-raft/core/raft/codec"
)

// Identifier is the command tag this machine registers under (raft.Router).
const Identifier = "kv"

// Op command names.
const (
	OpGet    = "get"
	OpPut    = "put"
	OpAppend = "append"
)

// Op is the command payload committed to the log for every kv operation.
// ClientID/RequestID dedup a client's retried writes the way
// kvraft.Op.ClientId/RequestId did: Apply only mutates state the first time
// a given (ClientID, RequestID) pair is seen.
type Op struct {
	Command   string
	ClientID  uint64
	RequestID uint64
	Key       string
	Value     string
}

func init() {
	codec.Register(Op{})
}

// EncodeOp wraps op as a raft.Command ready to submit. Get ops dedup
// exactly like writes so a client's retried read after a dropped response
// doesn't re-execute against a since-changed store — it replays the same
// result from the last-seen request rather than recomputing against
// whatever data now sits at Key.
func EncodeOp(op Op) (*raft.Command, error) {
	payload, err := codec.EncodeValue(op)
	if err != nil {
		return nil, err
	}
	return &raft.Command{Identifier: Identifier, Payload: payload}, nil
}

// KV is an in-memory key-value store. The zero value is not usable; use
// New.
type KV struct {
	mu   sync.Mutex
	data map[string]string
	ack  map[uint64]requestRecord
}

type requestRecord struct {
	requestID uint64
	value     string // last Get's result, so a duplicate Get replays the same answer
}

// New returns an empty store.
func New() *KV {
	return &KV{
		data: make(map[string]string),
		ack:  make(map[uint64]requestRecord),
	}
}

// Apply implements raft.StateMachine.
func (kv *KV) Apply(command *raft.Command) {
	var op Op
	if err := codec.DecodeValue(command.Payload, &op); err != nil {
		return
	}

	kv.mu.Lock()
	defer kv.mu.Unlock()

	if rec, ok := kv.ack[op.ClientID]; ok && rec.requestID >= op.RequestID {
		return
	}

	var value string
	switch op.Command {
	case OpPut:
		kv.data[op.Key] = op.Value
	case OpAppend:
		kv.data[op.Key] += op.Value
	case OpGet:
		value = kv.data[op.Key]
	}
	kv.ack[op.ClientID] = requestRecord{requestID: op.RequestID, value: value}
}

// Lookup reads the current value for key directly, bypassing consensus.
// Not linearizable on its own — a caller that needs a linearizable read
// should submit an OpGet command and read LastResult after it commits, the
// way every write does.
func (kv *KV) Lookup(key string) (string, bool) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.data[key]
	return v, ok
}

// LastResult returns the value produced by the most recently applied
// request from clientID, for a caller that just had an OpGet committed and
// wants its answer.
func (kv *KV) LastResult(clientID uint64) (string, bool) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	rec, ok := kv.ack[clientID]
	if !ok {
		return "", false
	}
	return rec.value, true
}
