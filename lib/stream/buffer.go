package stream

import (
	"context"
	"sync"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
)

// ErrClosed is returned by waiting calls once the buffer is closed
var ErrClosed = document.NewError(document.RetCInternalError, "stream closed")

// Buffer holds the log entries that were appended but not yet released.
// Indices are assigned in append order starting at 1.
//
// Thread-safety: All methods are safe for concurrent use.
type Buffer struct {
	mu       sync.Mutex
	entries  []ops.LogEntry // entries[i].Index == first + i
	first    ops.LogIndex   // index of entries[0], last+1 if no entry is held
	last     ops.LogIndex   // last appended index, 0 if nothing was appended
	released ops.LogIndex
	closed   bool
	changed  chan struct{} // closed and replaced on every change
}

// NewBuffer creates an empty buffer
func NewBuffer() *Buffer {
	return &Buffer{
		first:   1,
		changed: make(chan struct{}),
	}
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// Append adds op as the next entry and returns its index
func (b *Buffer) Append(op ops.Operation) ops.LogIndex {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last++
	b.entries = append(b.entries, ops.LogEntry{Index: b.last, Op: op})
	b.notify()
	return b.last
}

// WaitFor blocks until idx was appended
func (b *Buffer) WaitFor(ctx context.Context, idx ops.LogIndex) error {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return ErrClosed
		}
		if b.last >= idx {
			b.mu.Unlock()
			return nil
		}
		changed := b.changed
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// WaitForIterator blocks until idx was appended and returns an iterator starting at idx
func (b *Buffer) WaitForIterator(ctx context.Context, idx ops.LogIndex) (document.IEntryIterator, error) {
	if err := b.WaitFor(ctx, idx); err != nil {
		return nil, err
	}
	return b.Iterator(idx), nil
}

// Iterator returns an iterator over all held entries from idx on.
// If idx was released already, the iterator starts at the first held entry.
func (b *Buffer) Iterator(idx ops.LogIndex) document.IEntryIterator {
	b.mu.Lock()
	defer b.mu.Unlock()

	if idx < b.first {
		idx = b.first
	}
	if idx > b.last {
		return &sliceIterator{}
	}
	start := int(idx - b.first)
	entries := make([]ops.LogEntry, len(b.entries)-start)
	copy(entries, b.entries[start:])
	return &sliceIterator{entries: entries}
}

// Release discards all entries up to and including idx
func (b *Buffer) Release(idx ops.LogIndex) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if idx > b.last {
		idx = b.last
	}
	if idx <= b.released {
		return
	}
	b.released = idx

	if idx >= b.first {
		n := int(idx - b.first + 1)
		b.entries = append([]ops.LogEntry(nil), b.entries[n:]...)
		b.first = idx + 1
	}
}

// FirstIndex returns the index of the first held entry
func (b *Buffer) FirstIndex() ops.LogIndex {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.first
}

// LastIndex returns the last appended index
func (b *Buffer) LastIndex() ops.LogIndex {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// ReleasedIndex returns the highest released index
func (b *Buffer) ReleasedIndex() ops.LogIndex {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}

// Len returns the number of held entries
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Entries returns a copy of all held entries and the last appended index
func (b *Buffer) Entries() ([]ops.LogEntry, ops.LogIndex) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := make([]ops.LogEntry, len(b.entries))
	copy(entries, b.entries)
	return entries, b.last
}

// Reset replaces the content of the buffer. entries must be contiguous and end at last.
func (b *Buffer) Reset(entries []ops.LogEntry, last ops.LogIndex) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append([]ops.LogEntry(nil), entries...)
	b.last = last
	b.first = last + 1
	if len(entries) > 0 {
		b.first = entries[0].Index
	}
	b.released = b.first - 1
	b.notify()
}

// Close wakes up all waiting calls, they return ErrClosed
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.notify()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// notify wakes up all waiting calls (caller holds b.mu)
func (b *Buffer) notify() {
	close(b.changed)
	b.changed = make(chan struct{})
}

type sliceIterator struct {
	entries []ops.LogEntry
	pos     int
}

func (it *sliceIterator) Next() (ops.LogEntry, bool) {
	if it.pos >= len(it.entries) {
		return ops.LogEntry{}, false
	}
	e := it.entries[it.pos]
	it.pos++
	return e, true
}

// Collect drains an iterator into a slice
func Collect(it document.IEntryIterator) []ops.LogEntry {
	var entries []ops.LogEntry
	for {
		e, ok := it.Next()
		if !ok {
			return entries
		}
		entries = append(entries, e)
	}
}
