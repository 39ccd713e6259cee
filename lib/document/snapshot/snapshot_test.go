package snapshot

import (
	"fmt"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/db/engines/docstore"
	dbtesting "github.com/ValentinKolb/dDoc/lib/db/testing"
	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var follower = document.PeerState{ServerID: "follower-1", RebootID: 1}

// newEngine creates an engine with one shard per entry of docs, holding that many documents
func newEngine(t *testing.T, docs map[ops.ShardID]int) db.Engine {
	t.Helper()

	engine := docstore.NewDocstore()
	tid := ops.TransactionID(1)
	for shard, n := range docs {
		require.NoError(t, engine.EnsureShard(shard, "col", []byte(`{"numberOfShards":3}`)))
		if n == 0 {
			continue
		}
		trx, err := engine.CreateTransaction(tid, shard, document.AccessModeWrite)
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			res, err := trx.Apply(ops.Insert{TID: tid, Shard: shard, Payload: [][]byte{dbtesting.Doc(fmt.Sprintf("k%03d", i), 0)}})
			require.NoError(t, err)
			require.True(t, res.Ok())
		}
		require.NoError(t, trx.Commit())
		tid += 4
	}
	return engine
}

func docSize() uint64 {
	return uint64(len(dbtesting.Doc("k000", 0)))
}

func fetchAll(t *testing.T, s *Snapshot) []document.SnapshotBatch {
	t.Helper()

	var batches []document.SnapshotBatch
	for i := 0; i < 1000; i++ {
		batch, err := s.Fetch()
		require.NoError(t, err)
		batches = append(batches, batch)
		if !batch.HasMore {
			return batches
		}
	}
	t.Fatalf("snapshot did not terminate")
	return nil
}

func TestBatchCount(t *testing.T) {
	cases := []struct {
		name  string
		docs  map[ops.ShardID]int
		limit uint64 // in documents
	}{
		{"NoShards", map[ops.ShardID]int{}, 2},
		{"EmptyShard", map[ops.ShardID]int{"s1": 0}, 2},
		{"Mixed", map[ops.ShardID]int{"s1": 7, "s2": 0, "s3": 3}, 2},
		{"ExactMultiple", map[ops.ShardID]int{"s1": 4, "s2": 8}, 4},
		{"SingleDocBatches", map[ops.ShardID]int{"s1": 5}, 1},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			engine := newEngine(t, c.docs)
			h := NewHandler(engine, cluster.NewRebootTracker(), c.limit*docSize())

			s, err := h.Create(engine.GetShardMap(), follower)
			require.NoError(t, err)
			batches := fetchAll(t, s)

			expected := len(c.docs) + 1
			totalDocs := 0
			for _, n := range c.docs {
				expected += (n + int(c.limit) - 1) / int(c.limit)
				totalDocs += n
			}
			assert.Len(t, batches, expected)

			last := batches[len(batches)-1]
			assert.False(t, last.HasMore)
			assert.Empty(t, last.Operations)
			assert.Nil(t, last.Shard)

			status := s.Status()
			assert.Equal(t, uint64(totalDocs), status.Statistics.Docs)
			assert.Equal(t, uint64(len(batches)), status.Statistics.Batches)
		})
	}
}

func TestBatchContent(t *testing.T) {
	engine := newEngine(t, map[ops.ShardID]int{"s2": 3, "s1": 2})
	h := NewHandler(engine, cluster.NewRebootTracker(), 2*docSize())

	s, err := h.Create(engine.GetShardMap(), follower)
	require.NoError(t, err)
	batches := fetchAll(t, s)
	require.Len(t, batches, 6)

	// shards are transferred in ascending order, each opened by a lone CreateShard
	var order []ops.ShardID
	seen := map[ops.TransactionID]bool{}
	for _, batch := range batches[:len(batches)-1] {
		require.NotNil(t, batch.Shard)
		assert.True(t, batch.HasMore)
		assert.Equal(t, s.ID(), batch.ID)

		switch op := batch.Operations[0].(type) {
		case ops.CreateShard:
			require.Len(t, batch.Operations, 1)
			assert.Equal(t, *batch.Shard, op.Shard)
			assert.Equal(t, ops.CollectionID("col"), op.Collection)
			assert.Equal(t, `{"numberOfShards":3}`, string(op.Properties))
			order = append(order, op.Shard)
		case ops.Insert:
			require.Len(t, batch.Operations, 2)
			assert.Equal(t, ops.Commit{TID: op.TID}, batch.Operations[1])
			assert.True(t, op.TID.IsFollowerTransaction())
			assert.False(t, seen[op.TID], "transaction id reused")
			seen[op.TID] = true
			assert.Equal(t, *batch.Shard, op.Shard)
		default:
			t.Fatalf("unexpected operation %s", op.Kind())
		}
	}
	assert.Equal(t, []ops.ShardID{"s1", "s2"}, order)

	stats := s.Status().Statistics.Shards["s2"]
	assert.Equal(t, uint64(3), stats.Docs)
	require.NotNil(t, stats.TotalDocs)
	assert.Equal(t, uint64(3), *stats.TotalDocs)
	assert.Equal(t, int(docSize()), stats.AvgDocSize)
}

func TestSnapshotIsolation(t *testing.T) {
	engine := newEngine(t, map[ops.ShardID]int{"s1": 2})
	h := NewHandler(engine, cluster.NewRebootTracker(), 0)

	s, err := h.Create(engine.GetShardMap(), follower)
	require.NoError(t, err)

	// written after the snapshot was taken
	trx, err := engine.CreateTransaction(101, "s1", document.AccessModeWrite)
	require.NoError(t, err)
	_, err = trx.Apply(ops.Insert{TID: 101, Shard: "s1", Payload: [][]byte{dbtesting.Doc("late", 1)}})
	require.NoError(t, err)
	require.NoError(t, trx.Commit())

	docs := 0
	for _, batch := range fetchAll(t, s) {
		for _, op := range batch.Operations {
			docs += len(ops.PayloadOf(op))
		}
	}
	assert.Equal(t, 2, docs)
}

func TestTerminalStates(t *testing.T) {
	engine := newEngine(t, map[ops.ShardID]int{"s1": 1})
	h := NewHandler(engine, cluster.NewRebootTracker(), 0)

	t.Run("Finished", func(t *testing.T) {
		s, err := h.Create(engine.GetShardMap(), follower)
		require.NoError(t, err)

		require.NoError(t, s.Finish())
		assert.NoError(t, s.Finish())
		assert.Equal(t, document.RetCSnapshotFinished, document.CodeOf(s.Abort(document.RetCSnapshotAborted)))

		_, err = s.Fetch()
		assert.Equal(t, document.RetCSnapshotFinished, document.CodeOf(err))
		assert.Equal(t, document.SnapshotFinished, s.Status().State)
	})

	t.Run("Aborted", func(t *testing.T) {
		s, err := h.Create(engine.GetShardMap(), follower)
		require.NoError(t, err)

		require.NoError(t, s.Abort(document.RetCSnapshotAborted))
		assert.NoError(t, s.Abort(document.RetCSnapshotAborted))
		assert.Equal(t, document.RetCSnapshotAborted, document.CodeOf(s.Finish()))

		_, err = s.Fetch()
		assert.Equal(t, document.RetCSnapshotAborted, document.CodeOf(err))
		assert.Equal(t, document.SnapshotAborted, s.Status().State)
	})
}

func TestHandlerLifecycle(t *testing.T) {
	engine := newEngine(t, map[ops.ShardID]int{"s1": 1})
	tracker := cluster.NewRebootTracker()
	h := NewHandler(engine, tracker, 0)

	s, err := h.Create(engine.GetShardMap(), follower)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, 1, tracker.Subscriptions())

	found, err := h.Find(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, found)

	for {
		batch, err := h.Fetch(s.ID())
		require.NoError(t, err)
		if !batch.HasMore {
			break
		}
	}

	status, err := h.Status(s.ID())
	require.NoError(t, err)
	assert.Equal(t, document.SnapshotOngoing, status.State)
	assert.Contains(t, h.AllStatuses().Snapshots, s.ID())

	require.NoError(t, h.Finish(s.ID()))
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 0, tracker.Subscriptions())

	_, err = h.Fetch(s.ID())
	assert.ErrorIs(t, err, document.ErrSnapshotNotFound)
	assert.ErrorIs(t, h.Finish(s.ID()), document.ErrSnapshotNotFound)
	assert.ErrorIs(t, h.Abort(s.ID()), document.ErrSnapshotNotFound)
	_, err = h.Status("unknown")
	assert.ErrorIs(t, err, document.ErrSnapshotNotFound)
}

func TestFollowerRebootAbortsSnapshot(t *testing.T) {
	engine := newEngine(t, map[ops.ShardID]int{"s1": 1})
	tracker := cluster.NewRebootTracker()
	h := NewHandler(engine, tracker, 0)

	s, err := h.Create(engine.GetShardMap(), follower)
	require.NoError(t, err)
	other, err := h.Create(engine.GetShardMap(), document.PeerState{ServerID: "follower-2", RebootID: 1})
	require.NoError(t, err)

	tracker.UpdateServerState(follower.ServerID, follower.RebootID+1)

	assert.Equal(t, document.SnapshotAborted, s.Status().State)
	_, err = h.Find(s.ID())
	assert.ErrorIs(t, err, document.ErrSnapshotNotFound)

	_, err = h.Find(other.ID())
	assert.NoError(t, err)
	assert.Equal(t, 1, tracker.Subscriptions())
}

func TestRetryAbortsPreviousSnapshot(t *testing.T) {
	engine := newEngine(t, map[ops.ShardID]int{"s1": 2})
	tracker := cluster.NewRebootTracker()
	h := NewHandler(engine, tracker, docSize())

	first, err := h.Create(engine.GetShardMap(), follower)
	require.NoError(t, err)
	_, err = first.Fetch()
	require.NoError(t, err)
	other, err := h.Create(engine.GetShardMap(), document.PeerState{ServerID: "follower-2", RebootID: 1})
	require.NoError(t, err)

	// same follower and reboot id, the previous transfer failed
	second, err := h.Create(engine.GetShardMap(), follower)
	require.NoError(t, err)

	assert.Equal(t, document.SnapshotAborted, first.Status().State)
	_, err = h.Find(first.ID())
	assert.ErrorIs(t, err, document.ErrSnapshotNotFound)
	assert.ElementsMatch(t, []document.SnapshotID{other.ID(), second.ID()}, h.IDs())
	assert.Equal(t, 2, tracker.Subscriptions())
}

func TestCreateForRebootedFollower(t *testing.T) {
	engine := newEngine(t, map[ops.ShardID]int{"s1": 1})
	tracker := cluster.NewRebootTracker()
	tracker.UpdateServerState(follower.ServerID, follower.RebootID+1)
	h := NewHandler(engine, tracker, 0)

	_, err := h.Create(engine.GetShardMap(), follower)
	assert.Error(t, err)
	assert.Equal(t, 0, h.Len())
}

func TestResign(t *testing.T) {
	engine := newEngine(t, map[ops.ShardID]int{"s1": 1})
	tracker := cluster.NewRebootTracker()
	h := NewHandler(engine, tracker, 0)

	s, err := h.Create(engine.GetShardMap(), follower)
	require.NoError(t, err)
	_, err = s.Fetch()
	require.NoError(t, err)

	h.Resign()
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 0, tracker.Subscriptions())

	_, err = s.Fetch()
	assert.ErrorIs(t, err, document.ErrResigned)
}

func TestGiveUpOnShard(t *testing.T) {
	engine := newEngine(t, map[ops.ShardID]int{"s1": 3, "s2": 3, "s3": 1})
	h := NewHandler(engine, cluster.NewRebootTracker(), docSize())

	s, err := h.Create(engine.GetShardMap(), follower)
	require.NoError(t, err)

	// open s1 and read one document
	_, err = s.Fetch()
	require.NoError(t, err)
	_, err = s.Fetch()
	require.NoError(t, err)

	// drop the current and a pending shard
	h.GiveUpOnShard("s1")
	h.GiveUpOnShard("s2")

	batch, err := s.Fetch()
	require.NoError(t, err)
	require.NotNil(t, batch.Shard)
	assert.Equal(t, ops.ShardID("s3"), *batch.Shard)
	assert.IsType(t, ops.CreateShard{}, batch.Operations[0])

	rest := fetchAll(t, s)
	assert.Len(t, rest, 2)

	// no effect on terminal snapshots
	require.NoError(t, s.Finish())
	s.GiveUpOnShard("s3")
}
