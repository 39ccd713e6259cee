package lstream

import (
	"context"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/ValentinKolb/dDoc/lib/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ document.IStream = (*Stream)(nil)

func TestInsertAndRelease(t *testing.T) {
	s := NewLocalStream()
	ctx := context.Background()

	idx, err := s.Insert(ctx, ops.Insert{TID: 5, Shard: "s1", Payload: [][]byte{[]byte(`{"_key":"a"}`)}})
	require.NoError(t, err)
	assert.Equal(t, ops.LogIndex(1), idx)

	idx, err = s.Insert(ctx, ops.Commit{TID: 5})
	require.NoError(t, err)
	assert.Equal(t, ops.LogIndex(2), idx)

	require.NoError(t, s.WaitFor(ctx, 2))
	it, err := s.WaitForIterator(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, stream.Collect(it), 2)

	s.Release(1)
	assert.Len(t, stream.Collect(s.Iterator(1)), 1)
}

func TestInsertCancelled(t *testing.T) {
	s := NewLocalStream()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Insert(ctx, ops.AbortAllOngoingTrx{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ops.LogIndex(0), s.Buffer().LastIndex())
}
