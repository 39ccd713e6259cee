package trxhandler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/lni/dragonboat/v4/logger"
	"go.uber.org/multierr"
)

var log = logger.GetLogger("trxhandler")

// transaction is an open storage transaction together with the shard it works on
type transaction struct {
	trx   document.ITransaction
	shard ops.ShardID
}

// Handler maps transaction ids to storage transactions and applies operations.
// All methods are safe for concurrent use.
type Handler struct {
	mu           sync.Mutex
	database     string
	factory      document.ITransactionFactory
	shards       document.IShardHandler
	transactions map[ops.TransactionID]*transaction
}

// New creates a handler for the shards of database
func New(database string, factory document.ITransactionFactory, shards document.IShardHandler) *Handler {
	return &Handler{
		database:     database,
		factory:      factory,
		shards:       shards,
		transactions: make(map[ops.TransactionID]*transaction),
	}
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// EnsureTransaction returns the storage transaction of a document operation,
// creating it if the transaction id was not seen before.
func (h *Handler) EnsureTransaction(op ops.Operation) (document.ITransaction, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ensureTransaction(op)
}

// ApplyEntry applies a single operation.
// A returned error is always fatal (code RetCFatalApply): the replica must not
// apply any further entries.
func (h *Handler) ApplyEntry(op ops.Operation) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch o := op.(type) {
	case ops.Insert, ops.Update, ops.Replace, ops.Remove, ops.Truncate:
		return h.applyDocumentOperation(op)
	case ops.Commit:
		return h.finish(o.TID, true)
	case ops.Abort:
		return h.finish(o.TID, false)
	case ops.IntermediateCommit:
		entry, ok := h.transactions[o.TID]
		if !ok {
			log.Debugf("intermediate commit for unknown transaction %d ignored", o.TID)
			return nil
		}
		if err := entry.trx.IntermediateCommit(); err != nil {
			return fatalf("intermediate commit of transaction %d failed: %v", o.TID, err)
		}
		return nil
	case ops.AbortAllOngoingTrx:
		h.abortAll()
		return nil
	case ops.CreateShard:
		if err := h.shards.EnsureShard(o.Shard, o.Collection, o.Properties); err != nil {
			return fatalf("failed to create shard %s: %v", o.Shard, err)
		}
		return nil
	case ops.ModifyShard:
		if err := h.shards.ModifyShard(o.Shard, o.Collection, o.Properties); err != nil {
			return fatalf("failed to modify shard %s: %v", o.Shard, err)
		}
		return nil
	case ops.DropShard:
		if err := h.abortTransactionsForShard(o.Shard); err != nil {
			log.Warningf("aborting transactions of dropped shard %s: %v", o.Shard, err)
		}
		if err := h.shards.DropShard(o.Shard); err != nil {
			return fatalf("failed to drop shard %s: %v", o.Shard, err)
		}
		return nil
	default:
		return fatalf("unknown operation %T", op)
	}
}

// Validate decides whether op would be applied with the current local shards
func (h *Handler) Validate(op ops.Operation) Decision {
	return Validate(op, h.shards.IsShardAvailable)
}

// GetUnfinishedTransactions returns all open transactions and their shards
func (h *Handler) GetUnfinishedTransactions() map[ops.TransactionID]ops.ShardID {
	h.mu.Lock()
	defer h.mu.Unlock()

	result := make(map[ops.TransactionID]ops.ShardID, len(h.transactions))
	for tid, entry := range h.transactions {
		result[tid] = entry.shard
	}
	return result
}

// GetTransactionsForShard returns the open transactions on shard in ascending order
func (h *Handler) GetTransactionsForShard(shard ops.ShardID) []ops.TransactionID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transactionsForShard(shard)
}

// AbortTransactionsForShard aborts and removes every open transaction on shard
func (h *Handler) AbortTransactionsForShard(shard ops.ShardID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.abortTransactionsForShard(shard)
}

// ShardHandler returns the shard handler the handler applies topology changes to
func (h *Handler) ShardHandler() document.IShardHandler {
	return h.shards
}

// Database returns the name of the database the handler works on
func (h *Handler) Database() string {
	return h.database
}

// --------------------------------------------------------------------------
// Helper Methods (callers hold h.mu)
// --------------------------------------------------------------------------

func (h *Handler) ensureTransaction(op ops.Operation) (document.ITransaction, error) {
	tid, ok := ops.TransactionOf(op)
	if !ok || !ops.IsDocumentOperation(op) {
		return nil, document.Errorf(document.RetCInvalidOperation, "%s is no document operation", op.Kind())
	}
	shard, _ := ops.ShardOf(op)

	if entry, ok := h.transactions[tid]; ok {
		if entry.shard != shard {
			return nil, document.Errorf(document.RetCInvalidOperation,
				"transaction %d works on shard %s, got operation for shard %s", tid, entry.shard, shard)
		}
		return entry.trx, nil
	}

	mode := document.AccessModeWrite
	if _, ok := op.(ops.Truncate); ok {
		mode = document.AccessModeExclusive
	}

	trx, err := h.factory.CreateTransaction(tid, shard, mode)
	if err != nil {
		return nil, err
	}
	h.transactions[tid] = &transaction{trx: trx, shard: shard}
	return trx, nil
}

func (h *Handler) applyDocumentOperation(op ops.Operation) error {
	shard, _ := ops.ShardOf(op)
	if !h.shards.IsShardAvailable(shard) {
		log.Debugf("shard %s not available, %s ignored", shard, op.Kind())
		return nil
	}

	trx, err := h.ensureTransaction(op)
	if err != nil {
		return fatalf("failed to create transaction for %s on shard %s: %v", op.Kind(), shard, err)
	}

	res, err := trx.Apply(op)
	if err != nil {
		if document.IsBenign(document.CodeOf(err)) {
			return nil
		}
		return fatalf("failed to apply %s on shard %s: %v", op.Kind(), shard, err)
	}

	for _, code := range res.ErrorCodes {
		if !document.IsBenign(code) {
			return fatalf("failed to apply %s on shard %s: document error %s", op.Kind(), shard, code)
		}
	}
	if !res.Ok() {
		log.Debugf("%s on shard %s ignored %d benign errors", op.Kind(), shard, len(res.ErrorCodes))
	}
	return nil
}

// finish commits or aborts a transaction. The handle is removed regardless of the outcome.
func (h *Handler) finish(tid ops.TransactionID, commit bool) error {
	entry, ok := h.transactions[tid]
	if !ok {
		// nothing was applied for this transaction (e.g. its shard is not available)
		return nil
	}
	delete(h.transactions, tid)

	if commit {
		if err := entry.trx.Commit(); err != nil {
			return fatalf("commit of transaction %d failed: %v", tid, err)
		}
		return nil
	}
	if err := entry.trx.Abort(); err != nil {
		return fatalf("abort of transaction %d failed: %v", tid, err)
	}
	return nil
}

// abortAll aborts all transactions. Errors are logged and swallowed.
func (h *Handler) abortAll() {
	var err error
	for tid, entry := range h.transactions {
		if abortErr := entry.trx.Abort(); abortErr != nil {
			err = multierr.Append(err, fmt.Errorf("transaction %d: %w", tid, abortErr))
		}
	}
	if n := len(h.transactions); n > 0 {
		log.Infof("aborted %d ongoing transactions", n)
	}
	h.transactions = make(map[ops.TransactionID]*transaction)

	if err != nil {
		log.Warningf("abort of all ongoing transactions failed partially: %v", err)
	}
}

func (h *Handler) transactionsForShard(shard ops.ShardID) []ops.TransactionID {
	var tids []ops.TransactionID
	for tid, entry := range h.transactions {
		if entry.shard == shard {
			tids = append(tids, tid)
		}
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })
	return tids
}

func (h *Handler) abortTransactionsForShard(shard ops.ShardID) error {
	var err error
	for _, tid := range h.transactionsForShard(shard) {
		entry := h.transactions[tid]
		delete(h.transactions, tid)
		if abortErr := entry.trx.Abort(); abortErr != nil {
			err = multierr.Append(err, fmt.Errorf("transaction %d: %w", tid, abortErr))
		}
	}
	return err
}

func fatalf(format string, args ...interface{}) error {
	return document.Errorf(document.RetCFatalApply, format, args...)
}
