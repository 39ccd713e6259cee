package trxhandler

import (
	"errors"
	"testing"

	dbtesting "github.com/ValentinKolb/dDoc/lib/db/testing"
	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(shards ...ops.ShardID) (*Handler, *dbtesting.FakeTransactionFactory, *dbtesting.FakeShardHandler) {
	factory := dbtesting.NewFakeTransactionFactory()
	shardHandler := dbtesting.NewFakeShardHandler(shards...)
	return New("db", factory, shardHandler), factory, shardHandler
}

func insert(tid ops.TransactionID, shard ops.ShardID) ops.Insert {
	return ops.Insert{TID: tid, Shard: shard, Payload: [][]byte{[]byte(`{"_key":"a"}`)}}
}

func TestApplyAndCommit(t *testing.T) {
	h, factory, _ := newTestHandler("s1")

	require.NoError(t, h.ApplyEntry(insert(5, "s1")))
	require.NoError(t, h.ApplyEntry(insert(5, "s1")))
	assert.Equal(t, 1, factory.Count())
	assert.Equal(t, map[ops.TransactionID]ops.ShardID{5: "s1"}, h.GetUnfinishedTransactions())

	require.NoError(t, h.ApplyEntry(ops.IntermediateCommit{TID: 5}))
	trx, _ := factory.Get(5)
	assert.Equal(t, 1, trx.IntermediateCommits)
	assert.Len(t, h.GetUnfinishedTransactions(), 1)

	require.NoError(t, h.ApplyEntry(ops.Commit{TID: 5}))
	assert.True(t, trx.IsCommitted())
	assert.Len(t, trx.Applied, 2)
	assert.Empty(t, h.GetUnfinishedTransactions())
}

func TestAbortRemovesHandle(t *testing.T) {
	h, factory, _ := newTestHandler("s1")

	require.NoError(t, h.ApplyEntry(insert(5, "s1")))
	require.NoError(t, h.ApplyEntry(ops.Abort{TID: 5}))

	trx, _ := factory.Get(5)
	assert.True(t, trx.IsAborted())
	assert.Empty(t, h.GetUnfinishedTransactions())

	// commit or abort of an unknown transaction is a no-op
	assert.NoError(t, h.ApplyEntry(ops.Commit{TID: 9}))
	assert.NoError(t, h.ApplyEntry(ops.Abort{TID: 9}))
}

func TestTruncateUsesExclusiveAccess(t *testing.T) {
	h, factory, _ := newTestHandler("s1")

	require.NoError(t, h.ApplyEntry(ops.Truncate{TID: 5, Shard: "s1"}))
	trx, ok := factory.Get(5)
	require.True(t, ok)
	assert.Equal(t, document.AccessModeExclusive, trx.Mode)
}

func TestUnavailableShardIsIgnored(t *testing.T) {
	h, factory, _ := newTestHandler("s1")

	require.NoError(t, h.ApplyEntry(insert(5, "s2")))
	assert.Equal(t, 0, factory.Count())
	assert.Empty(t, h.GetUnfinishedTransactions())
	assert.NoError(t, h.ApplyEntry(ops.Commit{TID: 5}))
}

func TestBenignErrors(t *testing.T) {
	h, factory, _ := newTestHandler("s1")
	factory.Prepare = func(trx *dbtesting.FakeTransaction) {
		trx.Result = document.ApplyResult{ErrorCodes: []document.RetCode{
			document.RetCUniqueConstraintViolated,
			document.RetCDocumentNotFound,
		}}
	}

	assert.NoError(t, h.ApplyEntry(insert(5, "s1")))

	factory.Prepare = func(trx *dbtesting.FakeTransaction) {
		trx.ApplyErr = document.NewError(document.RetCDocumentNotFound, "gone")
	}
	assert.NoError(t, h.ApplyEntry(insert(9, "s1")))
}

func TestFatalErrors(t *testing.T) {
	t.Run("DocumentCode", func(t *testing.T) {
		h, factory, _ := newTestHandler("s1")
		factory.Prepare = func(trx *dbtesting.FakeTransaction) {
			trx.Result = document.ApplyResult{ErrorCodes: []document.RetCode{document.RetCInvalidDocument}}
		}
		err := h.ApplyEntry(insert(5, "s1"))
		assert.True(t, document.IsFatal(err))
	})

	t.Run("ApplyError", func(t *testing.T) {
		h, factory, _ := newTestHandler("s1")
		factory.Prepare = func(trx *dbtesting.FakeTransaction) {
			trx.ApplyErr = errors.New("disk on fire")
		}
		assert.True(t, document.IsFatal(h.ApplyEntry(insert(5, "s1"))))
	})

	t.Run("CommitError", func(t *testing.T) {
		h, factory, _ := newTestHandler("s1")
		factory.Prepare = func(trx *dbtesting.FakeTransaction) {
			trx.CommitErr = errors.New("commit failed")
		}
		require.NoError(t, h.ApplyEntry(insert(5, "s1")))
		assert.True(t, document.IsFatal(h.ApplyEntry(ops.Commit{TID: 5})))
		// the handle is gone even though the commit failed
		assert.Empty(t, h.GetUnfinishedTransactions())
	})

	t.Run("CreateShardError", func(t *testing.T) {
		h, _, shards := newTestHandler()
		shards.EnsureErr = errors.New("no space")
		assert.True(t, document.IsFatal(h.ApplyEntry(ops.CreateShard{Shard: "s1", Collection: "c"})))
	})

	t.Run("ShardMismatch", func(t *testing.T) {
		h, _, _ := newTestHandler("s1", "s2")
		require.NoError(t, h.ApplyEntry(insert(5, "s1")))
		assert.True(t, document.IsFatal(h.ApplyEntry(insert(5, "s2"))))
	})
}

func TestAbortAllSwallowsErrors(t *testing.T) {
	h, factory, _ := newTestHandler("s1", "s2")
	factory.Prepare = func(trx *dbtesting.FakeTransaction) {
		if trx.TID == 9 {
			trx.AbortErr = errors.New("abort failed")
		}
	}

	require.NoError(t, h.ApplyEntry(insert(5, "s1")))
	require.NoError(t, h.ApplyEntry(insert(9, "s2")))

	assert.NoError(t, h.ApplyEntry(ops.AbortAllOngoingTrx{}))
	assert.Empty(t, h.GetUnfinishedTransactions())

	for _, tid := range []ops.TransactionID{5, 9} {
		trx, _ := factory.Get(tid)
		assert.True(t, trx.IsAborted(), "transaction %d", tid)
	}
}

func TestShardOperations(t *testing.T) {
	h, _, shards := newTestHandler()

	require.NoError(t, h.ApplyEntry(ops.CreateShard{Shard: "s1", Collection: "c", Properties: []byte("p")}))
	assert.True(t, shards.IsShardAvailable("s1"))

	require.NoError(t, h.ApplyEntry(ops.ModifyShard{Shard: "s1", Collection: "c", Properties: []byte("q")}))
	assert.Equal(t, "q", string(shards.GetShardMap()["s1"].Properties))

	assert.True(t, document.IsFatal(h.ApplyEntry(ops.ModifyShard{Shard: "missing", Collection: "c"})))
}

func TestDropShardAbortsItsTransactions(t *testing.T) {
	h, factory, shards := newTestHandler("s1", "s2")

	require.NoError(t, h.ApplyEntry(insert(6, "s1")))
	require.NoError(t, h.ApplyEntry(insert(10, "s1")))
	require.NoError(t, h.ApplyEntry(insert(13, "s2")))
	assert.Equal(t, []ops.TransactionID{6, 10}, h.GetTransactionsForShard("s1"))

	require.NoError(t, h.ApplyEntry(ops.DropShard{Shard: "s1", Collection: "c"}))

	for _, tid := range []ops.TransactionID{6, 10} {
		trx, _ := factory.Get(tid)
		assert.True(t, trx.IsAborted(), "transaction %d", tid)
	}
	other, _ := factory.Get(13)
	assert.False(t, other.IsAborted())

	assert.Equal(t, map[ops.TransactionID]ops.ShardID{13: "s2"}, h.GetUnfinishedTransactions())
	assert.Equal(t, []ops.ShardID{"s1"}, shards.Dropped)
	assert.False(t, shards.IsShardAvailable("s1"))
}

func TestValidate(t *testing.T) {
	available := func(s ops.ShardID) bool { return s == "s1" }

	cases := []struct {
		op       ops.Operation
		decision Decision
	}{
		{insert(5, "s1"), DecisionApply},
		{insert(5, "s2"), DecisionSkip},
		{ops.Truncate{TID: 5, Shard: "s2"}, DecisionSkip},
		{ops.CreateShard{Shard: "s2"}, DecisionApply},
		{ops.ModifyShard{Shard: "s2"}, DecisionSkip},
		{ops.DropShard{Shard: "s2"}, DecisionSkip},
		{ops.DropShard{Shard: "s1"}, DecisionApply},
		{ops.Commit{TID: 5}, DecisionApply},
		{ops.Abort{TID: 5}, DecisionApply},
		{ops.IntermediateCommit{TID: 5}, DecisionApply},
		{ops.AbortAllOngoingTrx{}, DecisionApply},
	}

	for _, c := range cases {
		assert.Equal(t, c.decision, Validate(c.op, available), "%s", c.op.Kind())
	}
}
