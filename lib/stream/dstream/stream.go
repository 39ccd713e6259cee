package dstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/ValentinKolb/dDoc/lib/stream"
	"github.com/ValentinKolb/dDoc/lib/stream/dstream/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("stream")
)

// Stream is a replicated log. Entries are proposed to a Dragonboat RAFT shard and
// read from the buffer the local state machine appends committed entries to.
type Stream struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
	buf     *stream.Buffer
}

// NewDistributedStream creates a stream on the RAFT shard shardID. The shard must
// have been started with a state machine from CreateStateMachineFactory(registry).
func NewDistributedStream(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration, registry *Registry) *Stream {
	return &Stream{
		nh:      nh,
		shardID: shardID,
		cs:      nh.GetNoOPSession(shardID),
		timeout: timeout,
		buf:     registry.Buffer(shardID),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see document.IStream)
// --------------------------------------------------------------------------

// Insert proposes op and returns once it is committed and applied locally.
// If the system is busy, the proposal is retried up to 5 times.
func (s *Stream) Insert(ctx context.Context, op ops.Operation) (ops.LogIndex, error) {
	data := ops.Serialize(op)

	for i := 0; i < retries; i++ {
		proposeCtx, cancel := context.WithTimeout(ctx, s.timeout)
		res, err := s.nh.SyncPropose(proposeCtx, s.cs, data)
		cancel()

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(s.timeout / 10):
			}
			continue
		}

		if err != nil {
			return 0, document.Errorf(document.RetCInternalError, "failed to propose %s: %v", op.Kind(), err)
		}
		if res.Value == 0 {
			return 0, document.Errorf(document.RetCInternalError, "state machine rejected %s: %s", op.Kind(), res.Data)
		}
		return ops.LogIndex(res.Value), nil
	}
	return 0, document.NewError(document.RetCInternalError, "timeout")
}

func (s *Stream) WaitFor(ctx context.Context, idx ops.LogIndex) error {
	return s.buf.WaitFor(ctx, idx)
}

func (s *Stream) WaitForIterator(ctx context.Context, idx ops.LogIndex) (document.IEntryIterator, error) {
	return s.buf.WaitForIterator(ctx, idx)
}

func (s *Stream) Iterator(idx ops.LogIndex) document.IEntryIterator {
	return s.buf.Iterator(idx)
}

// Release drops released entries from memory. The RAFT log itself is compacted
// by Dragonboat according to the snapshot settings of the shard.
func (s *Stream) Release(idx ops.LogIndex) {
	s.buf.Release(idx)
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// CommittedIndex returns the last index committed by the RAFT shard (linearizable read)
func (s *Stream) CommittedIndex(ctx context.Context) (ops.LogIndex, error) {
	idx, err := read[uint64](ctx, s, internal.Query{Type: internal.QueryTLastIndex})
	return ops.LogIndex(idx), err
}

// Sync waits until all entries committed so far are available locally
func (s *Stream) Sync(ctx context.Context) (ops.LogIndex, error) {
	idx, err := s.CommittedIndex(ctx)
	if err != nil {
		return 0, err
	}
	return idx, s.buf.WaitFor(ctx, idx)
}

// Buffer returns the local buffer of the stream
func (s *Stream) Buffer() *stream.Buffer {
	return s.buf
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// read queries the state machine with SyncRead and converts the response into R.
// Is the read operation fails due to a system busy error, the function retries up to 5 times.
func read[R any](ctx context.Context, s *Stream, q internal.Query) (R, error) {
	var zero R
	for i := 0; i < retries; i++ {
		readCtx, cancel := context.WithTimeout(ctx, s.timeout)
		res, err := s.nh.SyncRead(readCtx, s.shardID, q)
		cancel()

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}

		if err != nil {
			return zero, document.Errorf(document.RetCInternalError, "query %s failed: %v", q.Type, err)
		}

		casted, ok := res.(R)
		if !ok {
			return zero, document.NewError(document.RetCInternalError,
				fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
		}
		return casted, nil
	}
	return zero, document.NewError(document.RetCInternalError, "timeout")
}
