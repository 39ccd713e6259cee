package dstream

import (
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/ValentinKolb/dDoc/lib/stream"
	"github.com/ValentinKolb/dDoc/lib/stream/dstream/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Buffer Registry
// --------------------------------------------------------------------------

// Registry connects the state machines created by Dragonboat with the streams
// reading from them. There is one buffer per RAFT shard.
type Registry struct {
	buffers *xsync.MapOf[uint64, *stream.Buffer]
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{buffers: xsync.NewMapOf[uint64, *stream.Buffer]()}
}

// Buffer returns the buffer of a RAFT shard, creating it if needed
func (r *Registry) Buffer(shardID uint64) *stream.Buffer {
	buf, _ := r.buffers.LoadOrCompute(shardID, stream.NewBuffer)
	return buf
}

// Remove closes and forgets the buffer of a RAFT shard
func (r *Registry) Remove(shardID uint64) {
	if buf, ok := r.buffers.LoadAndDelete(shardID); ok {
		buf.Close()
	}
}

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// LogStateMachine is a state machine implementation for Dragonboat RAFT.
// Every committed entry is an operation, it is appended to the buffer of the shard.
// The result value of an entry is the log index it was assigned (0 on error).
type LogStateMachine struct {
	replicaID uint64
	shardID   uint64
	buf       *stream.Buffer
}

// CreateStateMachineFactory returns a function that can be used by dragonboat to create a new state machine for a node host
func CreateStateMachineFactory(registry *Registry) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &LogStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			buf:       registry.Buffer(shardID),
		}
	}
}

// Lookup answers internal.Query requests, all results are uint64
func (fsm *LogStateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, document.Errorf(document.RetCInternalError, "invalid Query type: %T", itf)
	}

	switch q.Type {
	case internal.QueryTLastIndex:
		return uint64(fsm.buf.LastIndex()), nil
	case internal.QueryTFirstIndex:
		return uint64(fsm.buf.FirstIndex()), nil
	case internal.QueryTHeldCount:
		return uint64(fsm.buf.Len()), nil
	default:
		return nil, document.Errorf(document.RetCInvalidOperation, "unknown Query operation: %s", q.Type)
	}
}

// Update appends the committed operations to the buffer
func (fsm *LogStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {

	// Nothing to do
	if len(entries) == 0 {
		return entries, nil
	}

	// Stats
	start := time.Now()

	for idx, e := range entries {
		if len(e.Cmd) == 0 {
			entries[idx].Result = sm.Result{Value: 0, Data: []byte("empty command ignored")}
			continue
		}

		op, err := ops.Deserialize(e.Cmd)
		if err != nil {
			entries[idx].Result = sm.Result{Value: 0, Data: []byte(fmt.Sprintf("failed to deserialize operation: %v", err))}
			continue
		}

		logIndex := fsm.buf.Append(op)
		entries[idx].Result = sm.Result{Value: uint64(logIndex)}
	}

	// Log if the update took long
	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("State machine took long to update. Batch updated %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// PrepareSnapshot captures the held entries. Dragonboat calls it while no Update runs.
func (fsm *LogStateMachine) PrepareSnapshot() (interface{}, error) {
	entries, last := fsm.buf.Entries()
	return internal.EncodeSnapshot(entries, last), nil
}

// SaveSnapshot writes the entries captured by PrepareSnapshot
func (fsm *LogStateMachine) SaveSnapshot(ctx interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	data, ok := ctx.([]byte)
	if !ok {
		return fmt.Errorf("invalid snapshot context: %T", ctx)
	}
	_, err := writer.Write(data)
	return err
}

// RecoverFromSnapshot replaces the buffer content with the snapshot
func (fsm *LogStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read stream snapshot: %w", err)
	}
	entries, last, err := internal.DecodeSnapshot(data)
	if err != nil {
		return err
	}
	fsm.buf.Reset(entries, last)
	log.Infof("[%d:%d] recovered %d entries up to index %d", fsm.shardID, fsm.replicaID, len(entries), last)
	return nil
}

// Close wakes up all readers waiting on the buffer
func (fsm *LogStateMachine) Close() error {
	fsm.buf.Close()
	return nil
}
