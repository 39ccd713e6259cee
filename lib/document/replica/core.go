package replica

import (
	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/activetrx"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/ValentinKolb/dDoc/lib/document/trxhandler"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("replica")

var (
	replicatedOps     = metrics.GetOrCreateCounter("ddoc_replicated_operations_total")
	skippedDuplicates = metrics.GetOrCreateCounter("ddoc_skipped_duplicate_operations_total")
	appliedEntries    = metrics.GetOrCreateCounter("ddoc_applied_entries_total")
	skippedEntries    = metrics.GetOrCreateCounter("ddoc_skipped_entries_total")
	releasedEntries   = metrics.GetOrCreateCounter("ddoc_released_entries_total")
	fatalErrors       = metrics.GetOrCreateCounter("ddoc_fatal_apply_errors_total")
)

// Storage is the storage engine a replica works on
type Storage interface {
	document.IShardHandler
	document.ITransactionFactory
	document.IDatabaseSnapshotFactory
}

// Core is the local state of a group replica. It outlives leader and follower
// states: resigning hands the core back so that the next state can take it over.
type Core struct {
	database string
	storage  Storage
	trx      *trxhandler.Handler
}

// NewCore creates the core of a replica of database on storage
func NewCore(database string, storage Storage) *Core {
	return &Core{
		database: database,
		storage:  storage,
		trx:      trxhandler.New(database, storage, storage),
	}
}

// Database returns the name of the database the replica belongs to
func (c *Core) Database() string {
	return c.database
}

// Storage returns the storage engine
func (c *Core) Storage() Storage {
	return c.storage
}

// TransactionHandler returns the handler applying operations to the storage
func (c *Core) TransactionHandler() *trxhandler.Handler {
	return c.trx
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// track updates the active transactions after op was applied at idx
func track(active *activetrx.Queue, op ops.Operation, idx ops.LogIndex) {
	switch o := op.(type) {
	case ops.Commit:
		active.MarkAsInactive(activetrx.TransactionKey(o.TID))
	case ops.Abort:
		active.MarkAsInactive(activetrx.TransactionKey(o.TID))
	case ops.AbortAllOngoingTrx:
		clearTransactions(active)
	case ops.DropShard:
		// handled before the operation is applied
	default:
		if !ops.IsDocumentOperation(op) {
			return
		}
		tid, _ := ops.TransactionOf(op)
		if key := activetrx.TransactionKey(tid); !active.IsActive(key) {
			active.MarkAsActive(key, idx)
		}
	}
}

// clearTransactions removes all transactions from the queue, barriers stay
func clearTransactions(active *activetrx.Queue) []ops.TransactionID {
	tids := active.Transactions()
	for _, tid := range tids {
		active.MarkAsInactive(activetrx.TransactionKey(tid))
	}
	return tids
}

// forgetShardTransactions removes the transactions of a shard that is about to
// be dropped from the queue
func forgetShardTransactions(active *activetrx.Queue, trx *trxhandler.Handler, shard ops.ShardID) []ops.TransactionID {
	tids := trx.GetTransactionsForShard(shard)
	for _, tid := range tids {
		active.MarkAsInactive(activetrx.TransactionKey(tid))
	}
	return tids
}

func fatal(err error) error {
	fatalErrors.Inc()
	log.Errorf("replica stopped: %v", err)
	return err
}
