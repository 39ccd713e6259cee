package document

import (
	"context"

	"github.com/ValentinKolb/dDoc/lib/document/ops"
)

// --------------------------------------------------------------------------
// Replicated Log
// --------------------------------------------------------------------------

// IEntryIterator iterates over a range of log entries in increasing index order
type IEntryIterator interface {
	// Next returns the next entry. The boolean is false once the range is exhausted.
	Next() (ops.LogEntry, bool)
}

// IStream is the replicated log a shard group is built upon
type IStream interface {
	// Insert appends op to the log and returns the index it was assigned
	Insert(ctx context.Context, op ops.Operation) (ops.LogIndex, error)
	// WaitFor blocks until the entry at idx is committed (and locally available)
	WaitFor(ctx context.Context, idx ops.LogIndex) error
	// WaitForIterator blocks until the entry at idx is available and returns an iterator
	// starting at idx (or the first entry still held, if idx was released already)
	WaitForIterator(ctx context.Context, idx ops.LogIndex) (IEntryIterator, error)
	// Iterator returns an iterator over all entries from idx that are currently available
	Iterator(idx ops.LogIndex) IEntryIterator
	// Release allows the log to discard every entry up to (and including) idx
	Release(idx ops.LogIndex)
}

// --------------------------------------------------------------------------
// Storage
// --------------------------------------------------------------------------

// IShardHandler manages the local shards of a group
type IShardHandler interface {
	// EnsureShard creates the shard, or updates its properties if it already exists
	EnsureShard(shard ops.ShardID, collection ops.CollectionID, properties []byte) error
	// ModifyShard changes the properties of an existing shard
	ModifyShard(shard ops.ShardID, collection ops.CollectionID, properties []byte) error
	// DropShard removes the shard and all its documents. Dropping an unknown shard is no error.
	DropShard(shard ops.ShardID) error
	// DropAllShards removes all local shards
	DropAllShards() error
	// IsShardAvailable reports whether the shard exists locally
	IsShardAvailable(shard ops.ShardID) bool
	// GetShardMap returns all local shards with their properties
	GetShardMap() ops.ShardMap
	// GetAvailableShards returns the ids of all local shards in ascending order
	GetAvailableShards() []ops.ShardID
}

// AccessMode is the kind of lock a storage transaction takes on its shard
type AccessMode uint8

const (
	AccessModeWrite     AccessMode = iota // shared write access (document operations)
	AccessModeExclusive                   // exclusive access (truncate)
)

// ApplyResult is the outcome of applying one document operation.
// ErrorCodes holds the code of every document that could not be applied.
type ApplyResult struct {
	ErrorCodes []RetCode
}

// Ok reports whether all documents were applied without error
func (r ApplyResult) Ok() bool {
	return len(r.ErrorCodes) == 0
}

// ITransaction is a storage engine transaction on one shard
type ITransaction interface {
	// Apply executes a document operation (Insert, Update, Replace, Remove, Truncate).
	// Per document failures are reported in the result, the error is reserved for
	// failures of the operation as a whole.
	Apply(op ops.Operation) (ApplyResult, error)
	// Commit makes all changes visible and ends the transaction
	Commit() error
	// IntermediateCommit makes the changes so far visible, the transaction stays open
	IntermediateCommit() error
	// Abort discards all changes and ends the transaction
	Abort() error
}

// ITransactionFactory creates storage transactions
type ITransactionFactory interface {
	CreateTransaction(tid ops.TransactionID, shard ops.ShardID, mode AccessMode) (ITransaction, error)
}

// DocumentSink receives the documents read by an ICollectionReader
type DocumentSink func(doc []byte)

// ICollectionReader reads all documents of one shard from a consistent read view
type ICollectionReader interface {
	// HasMore reports whether unread documents remain
	HasMore() bool
	// GetDocCount returns the total number of documents, if known
	GetDocCount() (uint64, bool)
	// Read passes documents to sink until at least softLimitBytes were read or the
	// shard is exhausted. At least one document is read if any remain.
	Read(sink DocumentSink, softLimitBytes uint64)
}

// IDatabaseSnapshot is a consistent read view over all shards of a group
type IDatabaseSnapshot interface {
	// CreateCollectionReader creates a reader for one shard of the view
	CreateCollectionReader(shard ops.ShardID) (ICollectionReader, error)
	// ResetTransaction releases the current read view and opens a new one.
	// Readers created before keep their view.
	ResetTransaction() error
}

// IDatabaseSnapshotFactory opens read views
type IDatabaseSnapshotFactory interface {
	CreateSnapshot() (IDatabaseSnapshot, error)
}

// --------------------------------------------------------------------------
// Cluster
// --------------------------------------------------------------------------

// PeerState identifies one incarnation of a server process
type PeerState struct {
	ServerID string `json:"serverId"`
	RebootID uint64 `json:"rebootId"`
}

// IRebootTracker notifies about restarts and failures of peers
type IRebootTracker interface {
	// CallMeOnChange registers cb to be called once the peer restarts (its reboot id
	// increases) or is removed. The returned cancel function revokes the subscription.
	CallMeOnChange(peer PeerState, description string, cb func()) (cancel func(), err error)
}

// ITransactionManager manages the user transactions of a database
type ITransactionManager interface {
	// AbortManagedTrx aborts a user transaction on behalf of the state machine
	AbortManagedTrx(ctx context.Context, tid ops.TransactionID, database string) error
}

// ILeaderInterface is the follower's view of the leader
type ILeaderInterface interface {
	// StartSnapshot opens a new snapshot on the leader
	StartSnapshot(ctx context.Context) (SnapshotConfig, error)
	// NextSnapshotBatch fetches the next batch of an open snapshot
	NextSnapshotBatch(ctx context.Context, id SnapshotID) (SnapshotBatch, error)
	// FinishSnapshot releases a completely transferred snapshot
	FinishSnapshot(ctx context.Context, id SnapshotID) error
}
