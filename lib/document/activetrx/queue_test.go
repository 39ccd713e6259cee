package activetrx

import (
	"math/rand"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReleaseIndexEmpty(t *testing.T) {
	q := NewQueue()
	_, ok := q.ReleaseIndex()
	assert.False(t, ok)
}

func TestMarkActiveInactive(t *testing.T) {
	q := NewQueue()
	q.MarkAsActive(TransactionKey(5), 10)
	q.MarkAsActive(TransactionKey(9), 12)
	q.MarkAsActive(BarrierKey(14), 14)

	idx, ok := q.ReleaseIndex()
	require.True(t, ok)
	assert.Equal(t, ops.LogIndex(9), idx)
	assert.Equal(t, []ops.TransactionID{5, 9}, q.Transactions())

	assert.True(t, q.MarkAsInactive(TransactionKey(5)))
	assert.False(t, q.MarkAsInactive(TransactionKey(5)))

	idx, ok = q.ReleaseIndex()
	require.True(t, ok)
	assert.Equal(t, ops.LogIndex(11), idx)

	q.MarkAsInactive(TransactionKey(9))
	idx, _ = q.ReleaseIndex()
	assert.Equal(t, ops.LogIndex(13), idx)
	assert.Empty(t, q.Transactions())
	assert.Equal(t, 1, q.Len())

	q.Clear()
	_, ok = q.ReleaseIndex()
	assert.False(t, ok)
}

func TestTransactionAndBarrierKeysDiffer(t *testing.T) {
	q := NewQueue()
	q.MarkAsActive(TransactionKey(7), 7)
	assert.NotPanics(t, func() { q.MarkAsActive(BarrierKey(7), 7) })
	assert.True(t, q.IsActive(TransactionKey(7)))
	assert.True(t, q.IsActive(BarrierKey(7)))
}

func TestMarkAsActiveTwicePanics(t *testing.T) {
	q := NewQueue()
	q.MarkAsActive(TransactionKey(5), 1)
	assert.Panics(t, func() { q.MarkAsActive(TransactionKey(5), 2) })
}

// TestReleaseIndexIsMinimumMinusOne checks the release index against a model
// for random sequences of unique activations and deactivations
func TestReleaseIndexIsMinimumMinusOne(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 50; round++ {
		q := NewQueue()
		model := map[ops.TransactionID]ops.LogIndex{}
		next := ops.LogIndex(1)

		for step := 0; step < 200; step++ {
			if len(model) == 0 || rng.Intn(3) > 0 {
				tid := ops.TransactionID(next*4 + 1)
				q.MarkAsActive(TransactionKey(tid), next)
				model[tid] = next
				next++
			} else {
				for tid := range model {
					q.MarkAsInactive(TransactionKey(tid))
					delete(model, tid)
					break
				}
			}

			idx, ok := q.ReleaseIndex()
			if len(model) == 0 {
				require.False(t, ok)
				continue
			}
			min := ops.LogIndex(1<<63 - 1)
			for _, i := range model {
				if i < min {
					min = i
				}
			}
			require.True(t, ok)
			require.Equal(t, min-1, idx)
		}
	}
}
