package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransactionIDClasses(t *testing.T) {
	assert.True(t, TransactionID(5).IsLeaderTransaction())
	assert.False(t, TransactionID(5).IsFollowerTransaction())
	assert.True(t, TransactionID(6).IsFollowerTransaction())
	assert.False(t, TransactionID(6).IsLeaderTransaction())

	assert.Equal(t, TransactionID(6), TransactionID(5).AsFollowerTransaction())
	assert.Equal(t, TransactionID(10), TransactionID(10).AsFollowerTransaction())
	assert.Equal(t, TransactionID(8), TransactionID(8).AsFollowerTransaction())
}

func TestOperationHelpers(t *testing.T) {
	insert := Insert{TID: 5, Shard: "s1", Payload: [][]byte{[]byte(`{}`)}}

	tid, ok := TransactionOf(insert)
	assert.True(t, ok)
	assert.Equal(t, TransactionID(5), tid)

	shard, ok := ShardOf(insert)
	assert.True(t, ok)
	assert.Equal(t, ShardID("s1"), shard)
	assert.Len(t, PayloadOf(insert), 1)

	_, ok = TransactionOf(CreateShard{Shard: "s1"})
	assert.False(t, ok)
	_, ok = ShardOf(Commit{TID: 5})
	assert.False(t, ok)

	assert.True(t, IsDocumentOperation(Truncate{TID: 5, Shard: "s1"}))
	assert.False(t, IsDocumentOperation(Commit{TID: 5}))
	assert.True(t, IsShardOperation(DropShard{Shard: "s1"}))

	for _, op := range []Operation{Commit{TID: 1}, Abort{TID: 1}, AbortAllOngoingTrx{}} {
		assert.True(t, IsTransactionBoundary(op), op.Kind().String())
	}
	assert.False(t, IsTransactionBoundary(IntermediateCommit{TID: 1}))
}

func TestShardMapOrder(t *testing.T) {
	m := ShardMap{
		"s3": {Collection: "c"},
		"s1": {Collection: "a"},
		"s2": {Collection: "b"},
	}
	assert.Equal(t, []ShardID{"s1", "s2", "s3"}, m.SortedShards())
}
