// Package db defines the interface of document storage engines that back a
// replicated shard group.
//
// An Engine combines the three storage collaborators of the state machine:
//
//   - document.IShardHandler: local shard lifecycle
//   - document.ITransactionFactory: storage transactions keyed by transaction id
//   - document.IDatabaseSnapshotFactory: consistent read views for snapshot transfers
//
// Engines are created through an EngineFactory so that every shard group of a
// server owns an independent instance.
//
// Implementations:
//
//   - engines/docstore: in-memory engine with one copy-on-write B-tree per shard
//
// The testing sub package contains a conformance suite every engine should pass and
// fakes of the collaborator interfaces for unit tests of the state machine.
package db
