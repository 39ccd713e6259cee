package replica

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/db/engines/docstore"
	dbtesting "github.com/ValentinKolb/dDoc/lib/db/testing"
	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/ValentinKolb/dDoc/lib/stream/lstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

var followerPeer = document.PeerState{ServerID: "follower-1", RebootID: 1}

// localLeader connects a follower with a leader state in the same process
type localLeader struct {
	leader *LeaderState
	peer   document.PeerState
	calls  int
	onNext func(call int)
}

func (l *localLeader) StartSnapshot(ctx context.Context) (document.SnapshotConfig, error) {
	return l.leader.SnapshotStart(ctx, l.peer)
}

func (l *localLeader) NextSnapshotBatch(ctx context.Context, id document.SnapshotID) (document.SnapshotBatch, error) {
	l.calls++
	if l.onNext != nil {
		l.onNext(l.calls)
	}
	return l.leader.SnapshotNext(ctx, id)
}

func (l *localLeader) FinishSnapshot(ctx context.Context, id document.SnapshotID) error {
	return l.leader.SnapshotFinish(ctx, id)
}

type leaderFixture struct {
	engine     db.Engine
	stream     *lstream.Stream
	trxManager *dbtesting.FakeTransactionManager
	leader     *LeaderState
}

func newLeader(t *testing.T, batchSizeLimit uint64) *leaderFixture {
	t.Helper()

	f := &leaderFixture{
		engine:     docstore.NewDocstore(),
		stream:     lstream.NewLocalStream(),
		trxManager: &dbtesting.FakeTransactionManager{},
	}
	f.leader = NewLeaderState(NewCore("db", f.engine), f.stream, f.trxManager, cluster.NewRebootTracker(), batchSizeLimit)
	return f
}

func insert(tid ops.TransactionID, shard ops.ShardID, keys ...string) ops.Insert {
	op := ops.Insert{TID: tid, Shard: shard}
	for _, key := range keys {
		op.Payload = append(op.Payload, dbtesting.Doc(key, int(tid)))
	}
	return op
}

func replicate(t *testing.T, l *LeaderState, op ops.Operation) ops.LogIndex {
	t.Helper()
	idx, err := l.ReplicateOperation(ctx, op, ReplicationOptions{})
	require.NoError(t, err)
	return idx
}

// --------------------------------------------------------------------------
// Leader
// --------------------------------------------------------------------------

func TestLeaderTransactionsAndResign(t *testing.T) {
	f := newLeader(t, 0)
	require.NoError(t, f.leader.CreateShard(ctx, "s1", "c", nil))

	replicate(t, f.leader, insert(5, "s1", "a"))
	replicate(t, f.leader, insert(9, "s1", "b"))
	idx13 := replicate(t, f.leader, insert(13, "s1", "c"))
	assert.Equal(t, []ops.TransactionID{5, 9, 13}, f.leader.ActiveTransactions())

	replicate(t, f.leader, ops.Abort{TID: 5})
	replicate(t, f.leader, ops.Commit{TID: 9})
	assert.Equal(t, []ops.TransactionID{13}, f.leader.ActiveTransactions())

	// the log is released up to the first entry of transaction 13
	assert.Equal(t, idx13-1, f.stream.Buffer().ReleasedIndex())
	release, ok := f.leader.ReleaseIndex()
	require.True(t, ok)
	assert.Equal(t, idx13-1, release)

	// only the committed document is visible
	docs := dbtesting.ReadShard(t, f.engine, "s1")
	assert.Len(t, docs, 1)
	assert.Contains(t, docs, "b")

	core, err := f.leader.Resign()
	require.NoError(t, err)
	require.NotNil(t, core)
	assert.Equal(t, []ops.TransactionID{13}, f.trxManager.Aborted())
	assert.Empty(t, core.TransactionHandler().GetUnfinishedTransactions())

	_, err = f.leader.Resign()
	assert.ErrorIs(t, err, document.ErrResigned)
	_, err = f.leader.ReplicateOperation(ctx, insert(17, "s1", "d"), ReplicationOptions{})
	assert.ErrorIs(t, err, document.ErrResigned)
	assert.ErrorIs(t, f.leader.CreateShard(ctx, "s2", "c", nil), document.ErrResigned)
	assert.Equal(t, []ops.TransactionID{13}, f.trxManager.Aborted())
}

// stallingStream blocks every Insert until its context is done once stall is set
type stallingStream struct {
	*lstream.Stream
	stall   atomic.Bool
	entered chan struct{}
}

func (s *stallingStream) Insert(ctx context.Context, op ops.Operation) (ops.LogIndex, error) {
	if s.stall.Load() {
		s.entered <- struct{}{}
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return s.Stream.Insert(ctx, op)
}

func TestLeaderResignsWhileInsertIsPending(t *testing.T) {
	stream := &stallingStream{Stream: lstream.NewLocalStream(), entered: make(chan struct{}, 1)}
	trxManager := &dbtesting.FakeTransactionManager{}
	leader := NewLeaderState(NewCore("db", docstore.NewDocstore()), stream, trxManager, cluster.NewRebootTracker(), 0)

	require.NoError(t, leader.CreateShard(ctx, "s1", "c", nil))
	replicate(t, leader, insert(5, "s1", "a"))

	stream.stall.Store(true)
	replicated := make(chan error, 1)
	go func() {
		_, err := leader.ReplicateOperation(ctx, insert(9, "s1", "b"), ReplicationOptions{})
		replicated <- err
	}()
	<-stream.entered

	// state queries do not wait for the pending insert
	_, err := leader.AllSnapshotsStatus()
	require.NoError(t, err)
	_, err = leader.GetShardMap()
	require.NoError(t, err)

	resigned := make(chan *Core, 1)
	go func() {
		core, err := leader.Resign()
		assert.NoError(t, err)
		resigned <- core
	}()

	select {
	case core := <-resigned:
		require.NotNil(t, core)
		assert.Empty(t, core.TransactionHandler().GetUnfinishedTransactions())
	case <-time.After(time.Second):
		t.Fatal("Resign blocked by a pending insert")
	}

	select {
	case err := <-replicated:
		assert.ErrorIs(t, err, document.ErrResigned)
	case <-time.After(time.Second):
		t.Fatal("pending insert did not fail after Resign")
	}
	assert.Equal(t, []ops.TransactionID{5}, trxManager.Aborted())
}

func TestLeaderSkipsDuplicateBoundaries(t *testing.T) {
	f := newLeader(t, 0)
	require.NoError(t, f.leader.CreateShard(ctx, "s1", "c", nil))
	replicate(t, f.leader, insert(5, "s1", "a"))
	replicate(t, f.leader, ops.Commit{TID: 5})
	last := f.stream.Buffer().LastIndex()

	assert.Equal(t, ops.LogIndex(0), replicate(t, f.leader, ops.Commit{TID: 5}))
	assert.Equal(t, ops.LogIndex(0), replicate(t, f.leader, ops.Abort{TID: 5}))
	assert.Equal(t, ops.LogIndex(0), replicate(t, f.leader, ops.Commit{TID: 21}))
	assert.Equal(t, last, f.stream.Buffer().LastIndex())

	// nothing is active, everything is released
	assert.Equal(t, last, f.stream.Buffer().ReleasedIndex())
}

func TestLeaderIntermediateCommitAndRelease(t *testing.T) {
	f := newLeader(t, 0)
	require.NoError(t, f.leader.CreateShard(ctx, "s1", "c", nil))

	first := replicate(t, f.leader, insert(5, "s1", "a"))
	idx, err := f.leader.ReplicateOperation(ctx, ops.IntermediateCommit{TID: 5}, ReplicationOptions{WaitForCommit: true})
	require.NoError(t, err)
	assert.Greater(t, idx, first)

	// the transaction stays active, its documents are visible
	assert.Equal(t, []ops.TransactionID{5}, f.leader.ActiveTransactions())
	assert.Len(t, dbtesting.ReadShard(t, f.engine, "s1"), 1)

	f.leader.Release(5, idx)
	assert.Empty(t, f.leader.ActiveTransactions())
	assert.Equal(t, idx, f.stream.Buffer().ReleasedIndex())
}

func TestLeaderRejectsDirectShardOperations(t *testing.T) {
	f := newLeader(t, 0)
	_, err := f.leader.ReplicateOperation(ctx, ops.CreateShard{Shard: "s1"}, ReplicationOptions{})
	assert.Equal(t, document.RetCInvalidOperation, document.CodeOf(err))
}

func TestLeaderShardTopology(t *testing.T) {
	f := newLeader(t, 0)
	require.NoError(t, f.leader.CreateShard(ctx, "s1", "c", []byte("p1")))
	require.NoError(t, f.leader.CreateShard(ctx, "s2", "c", nil))
	require.NoError(t, f.leader.ModifyShard(ctx, "s1", "c", []byte("p2")))

	shards, err := f.leader.GetShardMap()
	require.NoError(t, err)
	assert.Equal(t, "p2", string(shards["s1"].Properties))

	replicate(t, f.leader, insert(5, "s1", "a"))
	replicate(t, f.leader, insert(9, "s1", "b"))
	replicate(t, f.leader, insert(13, "s2", "c"))

	require.NoError(t, f.leader.DropShard(ctx, "s1", "c"))
	assert.Equal(t, []ops.TransactionID{13}, f.leader.ActiveTransactions())
	assert.Equal(t, []ops.TransactionID{5, 9}, f.trxManager.Aborted())
	assert.False(t, f.engine.IsShardAvailable("s1"))

	// a later commit of a dropped transaction is not replicated
	assert.Equal(t, ops.LogIndex(0), replicate(t, f.leader, ops.Commit{TID: 5}))
}

func TestLeaderRecoverEntries(t *testing.T) {
	local := lstream.NewLocalStream()
	for _, op := range []ops.Operation{
		ops.CreateShard{Shard: "s1", Collection: "c"},
		insert(5, "s1", "a"),
		ops.Commit{TID: 5},
		insert(9, "s1", "b"),
		insert(13, "s2", "x"), // s2 was never created
		insert(5, "s1", "a"),  // replayed duplicate
	} {
		_, err := local.Insert(ctx, op)
		require.NoError(t, err)
	}

	engine := docstore.NewDocstore()
	trxManager := &dbtesting.FakeTransactionManager{}
	leader := NewLeaderState(NewCore("db", engine), local, trxManager, cluster.NewRebootTracker(), 0)

	require.NoError(t, leader.RecoverEntries(ctx, local.Iterator(1)))

	// transaction 9 was open, it is aborted through the manager and in storage
	assert.Equal(t, []ops.TransactionID{5, 9}, trxManager.Aborted())
	assert.Empty(t, leader.ActiveTransactions())
	docs := dbtesting.ReadShard(t, engine, "s1")
	assert.Len(t, docs, 1)
	assert.Contains(t, docs, "a")

	// the trailing abort-all was appended and everything is released
	entries := local.Buffer()
	assert.Equal(t, ops.LogIndex(7), entries.LastIndex())
	assert.Equal(t, ops.LogIndex(7), entries.ReleasedIndex())
}

func TestLeaderFatalErrorIsSticky(t *testing.T) {
	f := newLeader(t, 0)
	require.NoError(t, f.leader.CreateShard(ctx, "s1", "c", nil))

	invalid := ops.Insert{TID: 5, Shard: "s1", Payload: [][]byte{[]byte(`{"value":1}`)}}
	_, err := f.leader.ReplicateOperation(ctx, invalid, ReplicationOptions{})
	require.True(t, document.IsFatal(err))

	_, err = f.leader.ReplicateOperation(ctx, insert(9, "s1", "a"), ReplicationOptions{})
	assert.True(t, document.IsFatal(err))
}

// --------------------------------------------------------------------------
// Follower
// --------------------------------------------------------------------------

func newFollower(leader document.ILeaderInterface) (*FollowerState, db.Engine, *lstream.Stream) {
	engine := docstore.NewDocstore()
	stream := lstream.NewLocalStream()
	return NewFollowerState(NewCore("db", engine), stream, leader), engine, stream
}

func appendAll(t *testing.T, s *lstream.Stream, list ...ops.Operation) {
	t.Helper()
	for _, op := range list {
		_, err := s.Insert(ctx, op)
		require.NoError(t, err)
	}
}

func TestFollowerApplyAndRelease(t *testing.T) {
	f, engine, stream := newFollower(nil)

	appendAll(t, stream,
		ops.CreateShard{Shard: "s1", Collection: "c"}, // 1
		insert(5, "s1", "a"),                          // 2
		insert(9, "s1", "b"),                          // 3
		ops.Commit{TID: 5},                            // 4
		insert(13, "s1", "c"),                         // 5
	)
	require.NoError(t, f.ApplyEntries(ctx, stream.Iterator(1)))
	assert.Equal(t, ops.LogIndex(5), f.LastAppliedIndex())
	assert.Equal(t, []ops.TransactionID{9, 13}, f.ActiveTransactions())

	// last boundary is 4, but transaction 9 still needs entry 3
	assert.Equal(t, ops.LogIndex(2), stream.Buffer().ReleasedIndex())

	appendAll(t, stream,
		ops.Commit{TID: 9}, // 6
		ops.Abort{TID: 13}, // 7
	)
	require.NoError(t, f.ApplyEntries(ctx, stream.Iterator(1)))
	assert.Empty(t, f.ActiveTransactions())
	assert.Equal(t, ops.LogIndex(7), stream.Buffer().ReleasedIndex())

	docs := dbtesting.ReadShard(t, engine, "s1")
	assert.Len(t, docs, 2)
	assert.NotContains(t, docs, "c")
}

func TestFollowerReleasesOnlyUpToBoundary(t *testing.T) {
	f, _, stream := newFollower(nil)

	appendAll(t, stream,
		ops.CreateShard{Shard: "s1", Collection: "c"}, // 1
		insert(5, "s1", "a"),                          // 2
		ops.Commit{TID: 5},                            // 3
		ops.ModifyShard{Shard: "s1", Collection: "c"}, // 4
	)
	require.NoError(t, f.ApplyEntries(ctx, stream.Iterator(1)))
	assert.Empty(t, f.ActiveTransactions())
	assert.Equal(t, ops.LogIndex(3), stream.Buffer().ReleasedIndex())
}

func TestFollowerDropShardAbortsTransactions(t *testing.T) {
	f, engine, stream := newFollower(nil)

	appendAll(t, stream,
		ops.CreateShard{Shard: "s1", Collection: "c"},
		ops.CreateShard{Shard: "s2", Collection: "c"},
		insert(6, "s1", "a"),
		insert(10, "s1", "b"),
		insert(14, "s2", "c"),
		ops.DropShard{Shard: "s1", Collection: "c"},
		ops.ModifyShard{Shard: "s1", Collection: "c"}, // skipped, shard is gone
		insert(6, "s1", "d"),                          // skipped, shard is gone
	)
	require.NoError(t, f.ApplyEntries(ctx, stream.Iterator(1)))

	assert.Equal(t, []ops.TransactionID{14}, f.ActiveTransactions())
	assert.False(t, engine.IsShardAvailable("s1"))
	assert.True(t, engine.IsShardAvailable("s2"))
}

func TestFollowerReplayIsIdempotent(t *testing.T) {
	f, engine, stream := newFollower(nil)

	appendAll(t, stream,
		ops.CreateShard{Shard: "s1", Collection: "c"},
		insert(5, "s1", "a"),
		ops.Commit{TID: 5},
		insert(9, "s1", "a"), // unique constraint violated
		ops.Remove{TID: 9, Shard: "s1", Payload: [][]byte{[]byte(`{"_key":"x"}`)}}, // not found
		ops.Commit{TID: 9},
	)
	require.NoError(t, f.ApplyEntries(ctx, stream.Iterator(1)))
	assert.Len(t, dbtesting.ReadShard(t, engine, "s1"), 1)
}

func TestFollowerFatalError(t *testing.T) {
	f, _, stream := newFollower(nil)

	appendAll(t, stream,
		ops.CreateShard{Shard: "s1", Collection: "c"},
		ops.Insert{TID: 5, Shard: "s1", Payload: [][]byte{[]byte(`{"value":1}`)}},
		ops.Commit{TID: 5},
	)
	err := f.ApplyEntries(ctx, stream.Iterator(1))
	require.True(t, document.IsFatal(err))
	assert.Equal(t, ops.LogIndex(1), f.LastAppliedIndex())

	// the follower refuses further work
	assert.True(t, document.IsFatal(f.ApplyEntries(ctx, stream.Iterator(1))))
	_, err = f.AcquireSnapshot(ctx)
	assert.True(t, document.IsFatal(err))
}

func TestRunFollower(t *testing.T) {
	f, engine, stream := newFollower(nil)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- RunFollower(runCtx, f, stream) }()

	appendAll(t, stream,
		ops.CreateShard{Shard: "s1", Collection: "c"},
		insert(5, "s1", "a", "b"),
		ops.Commit{TID: 5},
	)
	require.Eventually(t, func() bool { return f.LastAppliedIndex() == 3 }, time.Second, 5*time.Millisecond)
	assert.Len(t, dbtesting.ReadShard(t, engine, "s1"), 2)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("RunFollower did not stop")
	}
}

// --------------------------------------------------------------------------
// Snapshot Transfer
// --------------------------------------------------------------------------

func fillLeader(t *testing.T, f *leaderFixture, shard ops.ShardID, tid ops.TransactionID, n int) {
	t.Helper()
	require.NoError(t, f.leader.CreateShard(ctx, shard, "c", []byte(`{"replicationFactor":3}`)))
	for i := 0; i < n; i++ {
		replicate(t, f.leader, insert(tid, shard, fmt.Sprintf("%s-%03d", shard, i)))
	}
	if n > 0 {
		replicate(t, f.leader, ops.Commit{TID: tid})
	}
}

func TestAcquireSnapshot(t *testing.T) {
	lf := newLeader(t, 2*uint64(len(dbtesting.Doc("s1-000", 5))))
	fillLeader(t, lf, "s1", 5, 5)
	fillLeader(t, lf, "s2", 9, 0)

	remote := &localLeader{leader: lf.leader, peer: followerPeer}
	f, engine, stream := newFollower(remote)

	// stale local state: a shard and an open transaction
	appendAll(t, stream,
		ops.CreateShard{Shard: "old", Collection: "c"},
		insert(6, "old", "z"),
	)
	require.NoError(t, f.ApplyEntries(ctx, stream.Iterator(1)))

	stats, err := f.AcquireSnapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, []ops.ShardID{"s1", "s2"}, engine.GetAvailableShards())
	assert.Equal(t, `{"replicationFactor":3}`, string(engine.GetShardMap()["s1"].Properties))
	assert.Equal(t, dbtesting.ReadShard(t, lf.engine, "s1"), dbtesting.ReadShard(t, engine, "s1"))
	assert.Empty(t, f.ActiveTransactions())
	assert.Empty(t, f.core.TransactionHandler().GetUnfinishedTransactions())

	// 2 shard openings, 3 data batches, 1 final batch
	assert.Equal(t, uint64(6), stats.Batches)
	assert.Equal(t, uint64(5), stats.Docs)
	assert.Equal(t, 6, remote.calls)

	all, err := lf.leader.AllSnapshotsStatus()
	require.NoError(t, err)
	assert.Empty(t, all.Snapshots)
}

func TestAcquireSnapshotFollowerResigns(t *testing.T) {
	lf := newLeader(t, uint64(len(dbtesting.Doc("s1-000", 5))))
	fillLeader(t, lf, "s1", 5, 4)

	remote := &localLeader{leader: lf.leader, peer: followerPeer}
	f, engine, _ := newFollower(remote)

	// resign after the shard was opened and one document arrived
	remote.onNext = func(call int) {
		if call == 3 {
			_, err := f.Resign()
			require.NoError(t, err)
		}
	}

	_, err := f.AcquireSnapshot(ctx)
	assert.ErrorIs(t, err, document.ErrResigned)
	assert.Equal(t, 3, remote.calls)
	assert.Len(t, dbtesting.ReadShard(t, engine, "s1"), 1)

	_, err = f.Resign()
	assert.ErrorIs(t, err, document.ErrResigned)
}

func TestRetriedAcquireSnapshotLeavesNoOngoingSnapshot(t *testing.T) {
	lf := newLeader(t, uint64(len(dbtesting.Doc("s1-000", 5))))
	fillLeader(t, lf, "s1", 5, 4)

	// the first transfer is abandoned after two batches
	remote := &localLeader{leader: lf.leader, peer: followerPeer}
	f, _, _ := newFollower(remote)
	remote.onNext = func(call int) {
		if call == 2 {
			_, err := f.Resign()
			require.NoError(t, err)
		}
	}
	_, err := f.AcquireSnapshot(ctx)
	require.ErrorIs(t, err, document.ErrResigned)

	all, err := lf.leader.AllSnapshotsStatus()
	require.NoError(t, err)
	require.Len(t, all.Snapshots, 1)

	// same server and reboot id retries
	retry, engine, _ := newFollower(&localLeader{leader: lf.leader, peer: followerPeer})
	stats, err := retry.AcquireSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), stats.Docs)
	assert.Len(t, dbtesting.ReadShard(t, engine, "s1"), 4)

	all, err = lf.leader.AllSnapshotsStatus()
	require.NoError(t, err)
	assert.Empty(t, all.Snapshots)
}

func TestAcquireSnapshotLeaderResigns(t *testing.T) {
	lf := newLeader(t, uint64(len(dbtesting.Doc("s1-000", 5))))
	fillLeader(t, lf, "s1", 5, 4)

	remote := &localLeader{leader: lf.leader, peer: followerPeer}
	f, _, _ := newFollower(remote)

	remote.onNext = func(call int) {
		if call == 2 {
			_, err := lf.leader.Resign()
			require.NoError(t, err)
		}
	}

	_, err := f.AcquireSnapshot(ctx)
	assert.ErrorIs(t, err, document.ErrResigned)
}
