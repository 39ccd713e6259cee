package stream

import (
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indices(entries []ops.LogEntry) []ops.LogIndex {
	var result []ops.LogIndex
	for _, e := range entries {
		result = append(result, e.Index)
	}
	return result
}

func TestAppendAndIterate(t *testing.T) {
	b := NewBuffer()
	for i := 0; i < 5; i++ {
		assert.Equal(t, ops.LogIndex(i+1), b.Append(ops.Commit{TID: ops.TransactionID(i)}))
	}

	assert.Equal(t, []ops.LogIndex{3, 4, 5}, indices(Collect(b.Iterator(3))))
	assert.Empty(t, Collect(b.Iterator(6)))

	entries := Collect(b.Iterator(1))
	require.Len(t, entries, 5)
	assert.Equal(t, ops.Commit{TID: 2}, entries[2].Op)
}

func TestRelease(t *testing.T) {
	b := NewBuffer()
	for i := 0; i < 5; i++ {
		b.Append(ops.AbortAllOngoingTrx{})
	}

	b.Release(3)
	assert.Equal(t, ops.LogIndex(4), b.FirstIndex())
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, ops.LogIndex(3), b.ReleasedIndex())

	// iterating from a released index starts at the first held entry
	assert.Equal(t, []ops.LogIndex{4, 5}, indices(Collect(b.Iterator(1))))

	// releasing backwards is a no-op, releasing beyond the end is capped
	b.Release(2)
	assert.Equal(t, 2, b.Len())
	b.Release(100)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, ops.LogIndex(6), b.FirstIndex())

	assert.Equal(t, ops.LogIndex(6), b.Append(ops.AbortAllOngoingTrx{}))
	assert.Equal(t, []ops.LogIndex{6}, indices(Collect(b.Iterator(1))))
}

func TestWaitFor(t *testing.T) {
	b := NewBuffer()

	done := make(chan error, 1)
	go func() {
		it, err := b.WaitForIterator(context.Background(), 2)
		if err == nil && len(Collect(it)) != 1 {
			err = assert.AnError
		}
		done <- err
	}()

	b.Append(ops.AbortAllOngoingTrx{})
	select {
	case <-done:
		t.Fatal("WaitFor returned before the entry was appended")
	case <-time.After(20 * time.Millisecond):
	}

	b.Append(ops.AbortAllOngoingTrx{})
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitFor did not return")
	}
}

func TestWaitForCancel(t *testing.T) {
	b := NewBuffer()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.WaitFor(ctx, 1), context.DeadlineExceeded)

	go b.Close()
	assert.ErrorIs(t, b.WaitFor(context.Background(), 1), ErrClosed)
}

func TestReset(t *testing.T) {
	b := NewBuffer()
	b.Append(ops.AbortAllOngoingTrx{})

	b.Reset([]ops.LogEntry{
		{Index: 7, Op: ops.Commit{TID: 5}},
		{Index: 8, Op: ops.Abort{TID: 9}},
	}, 8)

	assert.Equal(t, ops.LogIndex(7), b.FirstIndex())
	assert.Equal(t, ops.LogIndex(8), b.LastIndex())
	assert.Equal(t, ops.LogIndex(9), b.Append(ops.AbortAllOngoingTrx{}))

	entries, last := b.Entries()
	assert.Equal(t, ops.LogIndex(9), last)
	assert.Equal(t, []ops.LogIndex{7, 8, 9}, indices(entries))

	b.Reset(nil, 4)
	assert.Equal(t, ops.LogIndex(5), b.FirstIndex())
	assert.Equal(t, 0, b.Len())
}
