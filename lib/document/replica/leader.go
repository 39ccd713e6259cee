package replica

import (
	"context"
	"fmt"
	"sync"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/activetrx"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/ValentinKolb/dDoc/lib/document/snapshot"
	"github.com/ValentinKolb/dDoc/lib/document/trxhandler"
	"go.uber.org/multierr"
)

// ReplicationOptions control when ReplicateOperation returns
type ReplicationOptions struct {
	// WaitForCommit makes ReplicateOperation wait until the entry is committed
	WaitForCommit bool
}

// LeaderState is the document state machine of the leader of a group.
//
// Every replicated operation is inserted into the log and then applied to the local
// storage. insertMu orders insert and apply, so the leader applies entries in log
// order just like its followers. mu guards the state and is never held while
// waiting on the log: Resign cancels all pending inserts and does not wait for them.
// The leader tracks the active transactions and releases the log up to the first
// entry an open transaction still needs.
//
// Thread-safety: All methods are safe for concurrent use.
type LeaderState struct {
	insertMu sync.Mutex
	mu       sync.Mutex

	// lifetime is cancelled by Resign
	lifetime context.Context
	cancel   context.CancelFunc

	core       *Core // nil once resigned
	stream     document.IStream
	trxManager document.ITransactionManager
	snapshots  *snapshot.Handler
	active     *activetrx.Queue
	fatalErr   error
}

// NewLeaderState creates the leader state on top of core.
// batchSizeLimit is the soft byte limit of snapshot batches (0 = default).
func NewLeaderState(core *Core, stream document.IStream, trxManager document.ITransactionManager,
	tracker document.IRebootTracker, batchSizeLimit uint64) *LeaderState {
	lifetime, cancel := context.WithCancel(context.Background())
	return &LeaderState{
		lifetime:   lifetime,
		cancel:     cancel,
		core:       core,
		stream:     stream,
		trxManager: trxManager,
		snapshots:  snapshot.NewHandler(core.Storage(), tracker, batchSizeLimit),
		active:     activetrx.NewQueue(),
	}
}

// --------------------------------------------------------------------------
// Replication
// --------------------------------------------------------------------------

// ReplicateOperation inserts op into the log and applies it locally.
//
// A Commit or Abort of a transaction that is not active is not replicated: the
// returned index is 0 and the error nil. Shard operations must use CreateShard,
// ModifyShard and DropShard.
func (l *LeaderState) ReplicateOperation(ctx context.Context, op ops.Operation, opts ReplicationOptions) (ops.LogIndex, error) {
	if ops.IsShardOperation(op) {
		return 0, document.Errorf(document.RetCInvalidOperation, "%s must not be replicated directly", op.Kind())
	}

	l.insertMu.Lock()
	if skip, err := l.skipReplication(op); skip || err != nil {
		l.insertMu.Unlock()
		return 0, err
	}
	idx, err := l.insertAndApply(ctx, op, func(idx ops.LogIndex) {
		track(l.active, op, idx)
		if ops.IsTransactionBoundary(op) {
			l.release(idx)
		}
	})
	l.insertMu.Unlock()
	if err != nil {
		return 0, err
	}

	if opts.WaitForCommit {
		if err := l.stream.WaitFor(ctx, idx); err != nil {
			return idx, err
		}
	}
	return idx, nil
}

// Release marks tid as finished and releases the log up to the first entry that
// is still needed, or up to idx if no transaction is active anymore.
func (l *LeaderState) Release(tid ops.TransactionID, idx ops.LogIndex) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.core == nil {
		return
	}
	l.active.MarkAsInactive(activetrx.TransactionKey(tid))
	l.release(idx)
}

// ActiveTransactions returns the ids of all active transactions in ascending order
func (l *LeaderState) ActiveTransactions() []ops.TransactionID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active.Transactions()
}

// ReleaseIndex returns the current release index of the active transactions
func (l *LeaderState) ReleaseIndex() (ops.LogIndex, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active.ReleaseIndex()
}

// --------------------------------------------------------------------------
// Shard Topology
// --------------------------------------------------------------------------

// CreateShard replicates the creation of a shard and returns once it is applied and committed
func (l *LeaderState) CreateShard(ctx context.Context, shard ops.ShardID, collection ops.CollectionID, properties []byte) error {
	return l.replicateTopology(ctx, ops.CreateShard{Shard: shard, Collection: collection, Properties: properties})
}

// ModifyShard replicates a change of the shard properties
func (l *LeaderState) ModifyShard(ctx context.Context, shard ops.ShardID, collection ops.CollectionID, properties []byte) error {
	return l.replicateTopology(ctx, ops.ModifyShard{Shard: shard, Collection: collection, Properties: properties})
}

// DropShard replicates the removal of a shard. Open transactions on the shard are
// aborted, ongoing snapshots skip it.
func (l *LeaderState) DropShard(ctx context.Context, shard ops.ShardID, collection ops.CollectionID) error {
	return l.replicateTopology(ctx, ops.DropShard{Shard: shard, Collection: collection})
}

// GetShardMap returns the local shards
func (l *LeaderState) GetShardMap() (ops.ShardMap, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkUsable(); err != nil {
		return nil, err
	}
	return l.core.Storage().GetShardMap(), nil
}

// --------------------------------------------------------------------------
// Snapshots (docu see snapshot.Handler)
// --------------------------------------------------------------------------

// SnapshotStart opens a snapshot for the follower peer
func (l *LeaderState) SnapshotStart(_ context.Context, peer document.PeerState) (document.SnapshotConfig, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkUsable(); err != nil {
		return document.SnapshotConfig{}, err
	}
	// under the lock: the read view contains exactly the applied entries
	s, err := l.snapshots.Create(l.core.Storage().GetShardMap(), peer)
	if err != nil {
		return document.SnapshotConfig{}, err
	}
	return s.Config(), nil
}

// SnapshotNext returns the next batch of a snapshot
func (l *LeaderState) SnapshotNext(_ context.Context, id document.SnapshotID) (document.SnapshotBatch, error) {
	if err := l.checkResigned(); err != nil {
		return document.SnapshotBatch{}, err
	}
	return l.snapshots.Fetch(id)
}

// SnapshotFinish finishes a snapshot
func (l *LeaderState) SnapshotFinish(_ context.Context, id document.SnapshotID) error {
	if err := l.checkResigned(); err != nil {
		return err
	}
	return l.snapshots.Finish(id)
}

// SnapshotStatus returns the status of a snapshot
func (l *LeaderState) SnapshotStatus(id document.SnapshotID) (document.SnapshotStatus, error) {
	if err := l.checkResigned(); err != nil {
		return document.SnapshotStatus{}, err
	}
	return l.snapshots.Status(id)
}

// AllSnapshotsStatus returns the status of all snapshots
func (l *LeaderState) AllSnapshotsStatus() (document.AllSnapshotsStatus, error) {
	if err := l.checkResigned(); err != nil {
		return document.AllSnapshotsStatus{}, err
	}
	return l.snapshots.AllStatuses(), nil
}

// --------------------------------------------------------------------------
// Recovery and Resignation
// --------------------------------------------------------------------------

// RecoverEntries replays the local log after the election of this leader.
// Entries whose shard is not available are skipped. Afterwards an
// AbortAllOngoingTrx is replicated and all transactions still open are aborted
// through the transaction manager: they belong to a previous leader.
func (l *LeaderState) RecoverEntries(ctx context.Context, it document.IEntryIterator) error {
	l.insertMu.Lock()
	defer l.insertMu.Unlock()

	l.mu.Lock()
	if err := l.checkUsable(); err != nil {
		l.mu.Unlock()
		return err
	}
	handler := l.core.TransactionHandler()

	replayed, skipped := 0, 0
	for {
		entry, ok := it.Next()
		if !ok {
			break
		}
		applied, err := l.applyEntry(handler, entry)
		if err != nil {
			l.mu.Unlock()
			return err
		}
		if applied {
			replayed++
		} else {
			skipped++
		}
	}
	l.mu.Unlock()

	var (
		unfinished []ops.TransactionID
		database   string
	)
	_, err := l.insertAndApply(ctx, ops.AbortAllOngoingTrx{}, func(idx ops.LogIndex) {
		unfinished = clearTransactions(l.active)
		l.release(idx)
		database = l.core.Database()
	})
	if err != nil {
		return err
	}

	log.Infof("recovered %d entries (%d skipped), aborting %d unfinished transactions", replayed, skipped, len(unfinished))
	if err := l.abortManaged(ctx, unfinished, database); err != nil {
		log.Warningf("failed to abort transactions of the previous leader: %v", err)
	}
	return nil
}

// Resign stops the leader state and returns the core.
// Active transactions are aborted through the transaction manager, ongoing snapshot
// transfers fail with RetCResigned and all open storage transactions are aborted.
func (l *LeaderState) Resign() (*Core, error) {
	// pending inserts fail with ErrResigned and release insertMu
	l.cancel()

	l.mu.Lock()
	if l.core == nil {
		l.mu.Unlock()
		return nil, document.ErrResigned
	}
	core := l.core
	l.core = nil
	tids := clearTransactions(l.active)
	l.active.Clear()
	l.mu.Unlock()

	l.snapshots.Resign()

	if err := l.abortManaged(context.Background(), tids, core.Database()); err != nil {
		log.Warningf("resign: %v", err)
	}
	if err := core.TransactionHandler().ApplyEntry(ops.AbortAllOngoingTrx{}); err != nil {
		log.Warningf("resign: failed to abort ongoing transactions: %v", err)
	}

	log.Infof("leader of %s resigned", core.Database())
	return core, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// replicateTopology replicates a shard operation. A barrier keeps the log from
// being released past the operation until it is committed.
func (l *LeaderState) replicateTopology(ctx context.Context, op ops.Operation) error {
	l.insertMu.Lock()

	l.mu.Lock()
	if err := l.checkUsable(); err != nil {
		l.mu.Unlock()
		l.insertMu.Unlock()
		return err
	}
	// insertMu is held: no operation can open a transaction on the shard until the drop is applied
	var aborted []ops.TransactionID
	drop, isDrop := op.(ops.DropShard)
	if isDrop {
		aborted = l.core.TransactionHandler().GetTransactionsForShard(drop.Shard)
	}
	l.mu.Unlock()

	var (
		barrier  activetrx.Key
		database string
	)
	idx, err := l.insertAndApply(ctx, op, func(idx ops.LogIndex) {
		if isDrop {
			for _, tid := range aborted {
				l.active.MarkAsInactive(activetrx.TransactionKey(tid))
			}
			l.snapshots.GiveUpOnShard(drop.Shard)
		}
		barrier = activetrx.BarrierKey(idx)
		l.active.MarkAsActive(barrier, idx)
		database = l.core.Database()
	})
	l.insertMu.Unlock()
	if err != nil {
		return err
	}

	if err := l.abortManaged(ctx, aborted, database); err != nil {
		log.Warningf("%s: %v", op.Kind(), err)
	}

	waitErr := l.stream.WaitFor(ctx, idx)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.core == nil {
		return document.ErrResigned
	}
	l.active.MarkAsInactive(barrier)
	if waitErr != nil {
		return waitErr
	}
	l.release(idx)
	return nil
}

// skipReplication checks that the leader is usable and drops Commit and Abort of
// transactions that are not active
func (l *LeaderState) skipReplication(op ops.Operation) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkUsable(); err != nil {
		return false, err
	}
	var tid ops.TransactionID
	switch o := op.(type) {
	case ops.Commit:
		tid = o.TID
	case ops.Abort:
		tid = o.TID
	default:
		return false, nil
	}
	if l.active.IsActive(activetrx.TransactionKey(tid)) {
		return false, nil
	}
	skippedDuplicates.Inc()
	log.Debugf("%s of inactive transaction %d not replicated", op.Kind(), tid)
	return true, nil
}

// insertAndApply appends op to the log and applies it locally. applied runs under
// l.mu right after the entry was applied. The caller holds l.insertMu but not l.mu.
func (l *LeaderState) insertAndApply(ctx context.Context, op ops.Operation, applied func(ops.LogIndex)) (ops.LogIndex, error) {
	insertCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(l.lifetime, cancel)
	idx, err := l.stream.Insert(insertCtx, op)
	stop()
	cancel()

	if err != nil {
		if l.lifetime.Err() != nil {
			return 0, document.ErrResigned
		}
		return 0, err
	}
	replicatedOps.Inc()

	l.mu.Lock()
	defer l.mu.Unlock()
	// the entry stays in the log, the next state of the core applies it
	if err := l.checkUsable(); err != nil {
		return 0, err
	}
	if err := l.core.TransactionHandler().ApplyEntry(op); err != nil {
		l.fatalErr = fatal(err)
		return 0, err
	}
	if applied != nil {
		applied(idx)
	}
	return idx, nil
}

// applyEntry applies a recovered log entry. It returns false if the entry was
// skipped (caller holds l.mu).
func (l *LeaderState) applyEntry(handler *trxhandler.Handler, entry ops.LogEntry) (bool, error) {
	if handler.Validate(entry.Op) == trxhandler.DecisionSkip {
		skippedEntries.Inc()
		log.Debugf("skipping %s at %d, shard not available", entry.Op.Kind(), entry.Index)
		return false, nil
	}
	if o, ok := entry.Op.(ops.DropShard); ok {
		forgetShardTransactions(l.active, handler, o.Shard)
	}
	if err := handler.ApplyEntry(entry.Op); err != nil {
		l.fatalErr = fatal(err)
		return false, err
	}
	appliedEntries.Inc()
	track(l.active, entry.Op, entry.Index)
	return true, nil
}

// release releases the log up to the release index of the active transactions,
// or up to idx if nothing is active (caller holds l.mu)
func (l *LeaderState) release(idx ops.LogIndex) {
	if r, ok := l.active.ReleaseIndex(); ok {
		idx = r
	}
	if idx > 0 {
		l.stream.Release(idx)
		releasedEntries.Inc()
	}
}

// abortManaged aborts leader transactions through the transaction manager.
// Ids of other origins are skipped. All ids are tried, the errors are combined.
func (l *LeaderState) abortManaged(ctx context.Context, tids []ops.TransactionID, database string) error {
	var err error
	for _, tid := range tids {
		if !tid.IsLeaderTransaction() {
			continue
		}
		if abortErr := l.trxManager.AbortManagedTrx(ctx, tid, database); abortErr != nil {
			err = multierr.Append(err, fmt.Errorf("transaction %d: %w", tid, abortErr))
		}
	}
	return err
}

// checkUsable fails if the leader resigned or hit a fatal error (caller holds l.mu)
func (l *LeaderState) checkUsable() error {
	if l.core == nil {
		return document.ErrResigned
	}
	return l.fatalErr
}

func (l *LeaderState) checkResigned() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkUsable()
}
