package db

import (
	"github.com/ValentinKolb/dDoc/lib/document"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplDocstore Implementation = "docstore"
)

// DatabaseInfo reports the size of an engine.
// Implementations may estimate SizeBytes.
type DatabaseInfo struct {
	DbType    Implementation `json:"db_type"`
	Shards    int            `json:"shards"`
	Documents uint64         `json:"documents"`
	SizeBytes uint64         `json:"size_bytes"`
}

// --------------------------------------------------------------------------
// Engine Interface
// --------------------------------------------------------------------------

// Engine is a document storage engine that can back a replicated shard group.
// It manages the local shards, executes storage transactions and opens consistent
// read views for snapshot transfers.
type Engine interface {
	document.IShardHandler
	document.ITransactionFactory
	document.IDatabaseSnapshotFactory

	// GetInfo returns metadata about the engine
	GetInfo() DatabaseInfo
}

// EngineFactory creates a new, empty engine
type EngineFactory func() Engine
