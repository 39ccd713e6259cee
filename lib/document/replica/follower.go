package replica

import (
	"context"
	"sync"
	"time"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/activetrx"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/ValentinKolb/dDoc/lib/document/trxhandler"
	gometrics "github.com/rcrowley/go-metrics"
)

// FollowerState is the document state machine of a follower.
// It applies the log in order and bootstraps itself with a snapshot from the leader.
//
// Thread-safety: All methods are safe for concurrent use.
type FollowerState struct {
	mu sync.Mutex

	core   *Core // nil once resigned
	stream document.IStream
	leader document.ILeaderInterface
	active *activetrx.Queue

	lastApplied  ops.LogIndex
	lastBoundary ops.LogIndex
	fatalErr     error

	cancelTransfer context.CancelFunc
	transferRate   gometrics.Meter
}

// NewFollowerState creates the follower state on top of core
func NewFollowerState(core *Core, stream document.IStream, leader document.ILeaderInterface) *FollowerState {
	return &FollowerState{
		core:   core,
		stream: stream,
		leader: leader,
		active: activetrx.NewQueue(),
	}
}

// --------------------------------------------------------------------------
// Snapshot Transfer
// --------------------------------------------------------------------------

// AcquireSnapshot replaces the local shards with a snapshot of the leader.
// All local transactions are aborted and all local shards dropped first. If the
// follower resigns during the transfer, AcquireSnapshot fails with RetCResigned
// and nothing is applied anymore.
func (f *FollowerState) AcquireSnapshot(ctx context.Context) (document.SnapshotStatistics, error) {
	stats := document.SnapshotStatistics{Shards: make(map[ops.ShardID]document.ShardStatistics), StartedAt: time.Now()}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	f.mu.Lock()
	if err := f.checkUsable(); err != nil {
		f.mu.Unlock()
		return stats, err
	}
	handler := f.core.TransactionHandler()
	if err := handler.ApplyEntry(ops.AbortAllOngoingTrx{}); err != nil {
		f.mu.Unlock()
		return stats, err
	}
	f.active.Clear()
	if err := f.core.Storage().DropAllShards(); err != nil {
		f.mu.Unlock()
		return stats, document.Errorf(document.RetCInternalError, "failed to drop local shards: %v", err)
	}
	f.cancelTransfer = cancel
	f.transferRate = gometrics.NewMeter()
	meter := f.transferRate
	f.mu.Unlock()

	defer func() {
		meter.Stop()
		f.mu.Lock()
		f.cancelTransfer = nil
		f.mu.Unlock()
	}()

	config, err := f.leader.StartSnapshot(ctx)
	if err != nil {
		return stats, f.transferError(err)
	}
	log.Infof("acquiring snapshot %s of %d shards", config.ID, len(config.Shards))

	for {
		batch, err := f.leader.NextSnapshotBatch(ctx, config.ID)
		if err != nil {
			return stats, f.transferError(err)
		}

		if err := f.applyBatch(handler, batch); err != nil {
			return stats, err
		}
		collectBatch(&stats, batch)
		meter.Mark(int64(batch.PayloadBytes()))

		if !batch.HasMore {
			break
		}
	}

	if err := f.leader.FinishSnapshot(ctx, config.ID); err != nil {
		return stats, f.transferError(err)
	}

	log.Infof("snapshot %s transferred: %d docs, %d bytes in %d batches (%.0f bytes/s)",
		config.ID, stats.Docs, stats.Bytes, stats.Batches, meter.RateMean())
	return stats, nil
}

// TransferRate returns the mean transfer rate of the last snapshot in bytes per second
func (f *FollowerState) TransferRate() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transferRate == nil {
		return 0
	}
	return f.transferRate.RateMean()
}

// --------------------------------------------------------------------------
// Log Application
// --------------------------------------------------------------------------

// ApplyEntries applies the entries of it in order. Entries that were applied
// before are skipped. Afterwards the log is released up to the last transaction
// boundary, but never past an entry an open transaction still needs.
// Errors are fatal: once ApplyEntries failed, the follower refuses all further work.
func (f *FollowerState) ApplyEntries(_ context.Context, it document.IEntryIterator) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkUsable(); err != nil {
		return err
	}
	handler := f.core.TransactionHandler()

	for {
		entry, ok := it.Next()
		if !ok {
			break
		}
		if entry.Index <= f.lastApplied {
			continue
		}

		if handler.Validate(entry.Op) == trxhandler.DecisionApply {
			if o, ok := entry.Op.(ops.DropShard); ok {
				forgetShardTransactions(f.active, handler, o.Shard)
			}
			if err := handler.ApplyEntry(entry.Op); err != nil {
				f.fatalErr = fatal(err)
				return err
			}
			track(f.active, entry.Op, entry.Index)
			appliedEntries.Inc()
		} else {
			skippedEntries.Inc()
		}

		if ops.IsTransactionBoundary(entry.Op) {
			f.lastBoundary = entry.Index
		}
		f.lastApplied = entry.Index
	}

	f.release()
	return nil
}

// LastAppliedIndex returns the index of the last applied entry
func (f *FollowerState) LastAppliedIndex() ops.LogIndex {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastApplied
}

// ActiveTransactions returns the ids of all open transactions in ascending order
func (f *FollowerState) ActiveTransactions() []ops.TransactionID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active.Transactions()
}

// --------------------------------------------------------------------------
// Resignation
// --------------------------------------------------------------------------

// Resign stops the follower and returns the core. A running snapshot transfer is cancelled.
func (f *FollowerState) Resign() (*Core, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.core == nil {
		return nil, document.ErrResigned
	}
	core := f.core
	f.core = nil
	if f.cancelTransfer != nil {
		f.cancelTransfer()
	}
	log.Infof("follower of %s resigned", core.Database())
	return core, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// applyBatch applies the operations of a snapshot batch, checking for resignation
// before every operation
func (f *FollowerState) applyBatch(handler *trxhandler.Handler, batch document.SnapshotBatch) error {
	for _, op := range batch.Operations {
		f.mu.Lock()
		if f.core == nil {
			f.mu.Unlock()
			return document.ErrResigned
		}
		err := handler.ApplyEntry(op)
		if err != nil {
			f.fatalErr = fatal(err)
		}
		f.mu.Unlock()

		if err != nil {
			return err
		}
	}
	return nil
}

// transferError maps errors of the leader interface. Once resigned, every error is ErrResigned.
func (f *FollowerState) transferError(err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.core == nil {
		return document.ErrResigned
	}
	log.Warningf("snapshot transfer failed: %v", err)
	return err
}

// release releases the log up to the last boundary or the first entry an open
// transaction needs, whichever is lower (caller holds f.mu)
func (f *FollowerState) release() {
	idx := f.lastBoundary
	if r, ok := f.active.ReleaseIndex(); ok && r < idx {
		idx = r
	}
	if idx > 0 {
		f.stream.Release(idx)
		releasedEntries.Inc()
	}
}

// checkUsable fails if the follower resigned or hit a fatal error (caller holds f.mu)
func (f *FollowerState) checkUsable() error {
	if f.core == nil {
		return document.ErrResigned
	}
	return f.fatalErr
}

func collectBatch(stats *document.SnapshotStatistics, batch document.SnapshotBatch) {
	stats.Batches++
	if batch.Shard == nil {
		return
	}
	shard := stats.Shards[*batch.Shard]
	shard.Batches++
	for _, op := range batch.Operations {
		for _, doc := range ops.PayloadOf(op) {
			shard.Docs++
			shard.Bytes += uint64(len(doc))
			stats.Docs++
			stats.Bytes += uint64(len(doc))
		}
	}
	stats.Shards[*batch.Shard] = shard
}
