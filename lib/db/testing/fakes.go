package testing

import (
	"context"
	"sort"
	"sync"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
)

// --------------------------------------------------------------------------
// Fake Transaction
// --------------------------------------------------------------------------

// FakeTransaction records every call. Results and errors can be preset.
type FakeTransaction struct {
	mu sync.Mutex

	TID   ops.TransactionID
	Shard ops.ShardID
	Mode  document.AccessMode

	Result    document.ApplyResult
	ApplyErr  error
	CommitErr error
	AbortErr  error

	Applied             []ops.Operation
	Committed           bool
	IntermediateCommits int
	Aborted             bool
}

func (f *FakeTransaction) Apply(op ops.Operation) (document.ApplyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Applied = append(f.Applied, op)
	return f.Result, f.ApplyErr
}

func (f *FakeTransaction) Commit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Committed = true
	return f.CommitErr
}

func (f *FakeTransaction) IntermediateCommit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.IntermediateCommits++
	return f.CommitErr
}

func (f *FakeTransaction) Abort() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Aborted = true
	return f.AbortErr
}

// IsCommitted reports whether Commit was called
func (f *FakeTransaction) IsCommitted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Committed
}

// IsAborted reports whether Abort was called
func (f *FakeTransaction) IsAborted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Aborted
}

// --------------------------------------------------------------------------
// Fake Transaction Factory
// --------------------------------------------------------------------------

// FakeTransactionFactory creates FakeTransactions and keeps them by id.
// Prepare is called on every new transaction before it is returned.
type FakeTransactionFactory struct {
	mu      sync.Mutex
	created map[ops.TransactionID]*FakeTransaction

	Prepare func(trx *FakeTransaction)
	Err     error
}

func NewFakeTransactionFactory() *FakeTransactionFactory {
	return &FakeTransactionFactory{created: make(map[ops.TransactionID]*FakeTransaction)}
}

func (f *FakeTransactionFactory) CreateTransaction(tid ops.TransactionID, shard ops.ShardID, mode document.AccessMode) (document.ITransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	trx := &FakeTransaction{TID: tid, Shard: shard, Mode: mode}
	if f.Prepare != nil {
		f.Prepare(trx)
	}
	f.created[tid] = trx
	return trx, nil
}

// Get returns the last transaction created for tid
func (f *FakeTransactionFactory) Get(tid ops.TransactionID) (*FakeTransaction, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	trx, ok := f.created[tid]
	return trx, ok
}

// Count returns the number of created transactions
func (f *FakeTransactionFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// --------------------------------------------------------------------------
// Fake Shard Handler
// --------------------------------------------------------------------------

// FakeShardHandler keeps the shard map in memory. Errors can be preset per method.
type FakeShardHandler struct {
	mu     sync.Mutex
	shards ops.ShardMap

	EnsureErr error
	ModifyErr error
	DropErr   error

	Dropped []ops.ShardID
}

func NewFakeShardHandler(shards ...ops.ShardID) *FakeShardHandler {
	f := &FakeShardHandler{shards: make(ops.ShardMap)}
	for _, s := range shards {
		f.shards[s] = ops.ShardProperties{Collection: "c"}
	}
	return f
}

func (f *FakeShardHandler) EnsureShard(shard ops.ShardID, collection ops.CollectionID, properties []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EnsureErr != nil {
		return f.EnsureErr
	}
	f.shards[shard] = ops.ShardProperties{Collection: collection, Properties: properties}
	return nil
}

func (f *FakeShardHandler) ModifyShard(shard ops.ShardID, collection ops.CollectionID, properties []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ModifyErr != nil {
		return f.ModifyErr
	}
	if _, ok := f.shards[shard]; !ok {
		return document.Errorf(document.RetCShardNotFound, "shard %s does not exist", shard)
	}
	f.shards[shard] = ops.ShardProperties{Collection: collection, Properties: properties}
	return nil
}

func (f *FakeShardHandler) DropShard(shard ops.ShardID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DropErr != nil {
		return f.DropErr
	}
	delete(f.shards, shard)
	f.Dropped = append(f.Dropped, shard)
	return nil
}

func (f *FakeShardHandler) DropAllShards() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.shards {
		f.Dropped = append(f.Dropped, s)
	}
	f.shards = make(ops.ShardMap)
	return nil
}

func (f *FakeShardHandler) IsShardAvailable(shard ops.ShardID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.shards[shard]
	return ok
}

func (f *FakeShardHandler) GetShardMap() ops.ShardMap {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make(ops.ShardMap, len(f.shards))
	for k, v := range f.shards {
		result[k] = v
	}
	return result
}

func (f *FakeShardHandler) GetAvailableShards() []ops.ShardID {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]ops.ShardID, 0, len(f.shards))
	for s := range f.shards {
		ids = append(ids, s)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// --------------------------------------------------------------------------
// Fake Transaction Manager
// --------------------------------------------------------------------------

// FakeTransactionManager records the transactions it was asked to abort
type FakeTransactionManager struct {
	mu      sync.Mutex
	aborted []ops.TransactionID

	Err error
}

func (f *FakeTransactionManager) AbortManagedTrx(_ context.Context, tid ops.TransactionID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, tid)
	return f.Err
}

// Aborted returns the ids passed to AbortManagedTrx in call order
func (f *FakeTransactionManager) Aborted() []ops.TransactionID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ops.TransactionID(nil), f.aborted...)
}
