package lstream

import (
	"context"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/ValentinKolb/dDoc/lib/stream"
)

// Stream is a local, in-memory log without replication
type Stream struct {
	buf *stream.Buffer
}

// NewLocalStream creates a new local stream.
// Inserted entries are committed immediately.
func NewLocalStream() *Stream {
	return &Stream{buf: stream.NewBuffer()}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see document.IStream)
// --------------------------------------------------------------------------

func (s *Stream) Insert(ctx context.Context, op ops.Operation) (ops.LogIndex, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.buf.Append(op), nil
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

func (s *Stream) Release(idx ops.LogIndex) {
	s.buf.Release(idx)
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// Buffer returns the buffer holding the entries of the stream
func (s *Stream) Buffer() *stream.Buffer {
	return s.buf
}

// Close wakes up all waiting calls
func (s *Stream) Close() {
	s.buf.Close()
}
