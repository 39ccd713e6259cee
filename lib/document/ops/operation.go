package ops

import (
	"fmt"
	"sort"
	"strconv"
)

// --------------------------------------------------------------------------
// Identifiers
// --------------------------------------------------------------------------

// LogIndex is the position of an entry in the replicated log. Indices start at 1.
type LogIndex uint64

// ShardID identifies one shard of a collection.
type ShardID string

// CollectionID identifies the collection a shard belongs to.
type CollectionID string

// TransactionID identifies a state machine transaction.
//
// Ids are split into classes by their value modulo 4:
// leader transactions use ids with id%4 == 1, follower transactions id%4 == 2.
// The distinction prevents a follower-local id (e.g. created during a snapshot
// transfer) from being mistaken for a leader transaction on replay.
type TransactionID uint64

// IsLeaderTransaction reports whether the id was created by a leader
func (t TransactionID) IsLeaderTransaction() bool { return t%4 == 1 }

// IsFollowerTransaction reports whether the id was created by a follower
func (t TransactionID) IsFollowerTransaction() bool { return t%4 == 2 }

// AsFollowerTransaction maps a leader id to the follower id of the same transaction.
// Non-leader ids are returned unchanged.
func (t TransactionID) AsFollowerTransaction() TransactionID {
	if t.IsLeaderTransaction() {
		return t + 1
	}
	return t
}

func (t TransactionID) String() string {
	return strconv.FormatUint(uint64(t), 10)
}

// ShardProperties are the creation parameters of a shard
type ShardProperties struct {
	Collection CollectionID `json:"collection"`
	Properties []byte       `json:"properties,omitempty"`
}

// ShardMap maps all shards of a group to their properties
type ShardMap map[ShardID]ShardProperties

// SortedShards returns the shard ids of the map in ascending order.
// This is the fixed order in which snapshots transfer shards.
func (m ShardMap) SortedShards() []ShardID {
	ids := make([]ShardID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// LogEntry is an operation together with the index it was assigned by the log
type LogEntry struct {
	Index LogIndex
	Op    Operation
}

// --------------------------------------------------------------------------
// Operation Kinds
// --------------------------------------------------------------------------

// Kind is the discriminator of an Operation, also used as its type tag on the wire.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAbortAllOngoingTrx
	KindCommit
	KindIntermediateCommit
	KindAbort
	KindTruncate
	KindCreateShard
	KindModifyShard
	KindDropShard
	KindInsert
	KindUpdate
	KindReplace
	KindRemove
)

func (k Kind) String() string {
	switch k {
	case KindAbortAllOngoingTrx:
		return "AbortAllOngoingTrx"
	case KindCommit:
		return "Commit"
	case KindIntermediateCommit:
		return "IntermediateCommit"
	case KindAbort:
		return "Abort"
	case KindTruncate:
		return "Truncate"
	case KindCreateShard:
		return "CreateShard"
	case KindModifyShard:
		return "ModifyShard"
	case KindDropShard:
		return "DropShard"
	case KindInsert:
		return "Insert"
	case KindUpdate:
		return "Update"
	case KindReplace:
		return "Replace"
	case KindRemove:
		return "Remove"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// Operation is a single entry of the replicated log.
// The interface is sealed, only the types of this package implement it.
type Operation interface {
	Kind() Kind
	operation()
}

// AbortAllOngoingTrx aborts every open transaction. It is written by a new leader
// and used as a safety barrier before snapshot transfers.
type AbortAllOngoingTrx struct{}

// Commit commits the transaction TID
type Commit struct {
	TID TransactionID
}

// IntermediateCommit persists the changes of TID so far, the transaction stays open
type IntermediateCommit struct {
	TID TransactionID
}

// Abort discards all changes of the transaction TID
type Abort struct {
	TID TransactionID
}

// Truncate removes all documents of Shard as part of transaction TID
type Truncate struct {
	TID   TransactionID
	Shard ShardID
}

// CreateShard creates a shard (or ensures it exists)
type CreateShard struct {
	Shard      ShardID
	Collection CollectionID
	Properties []byte
}

// ModifyShard changes the properties of an existing shard
type ModifyShard struct {
	Shard      ShardID
	Collection CollectionID
	Properties []byte
}

// DropShard removes a shard with all its documents
type DropShard struct {
	Shard      ShardID
	Collection CollectionID
}

// Insert adds the documents in Payload to Shard
type Insert struct {
	TID     TransactionID
	Shard   ShardID
	Payload [][]byte
}

// Update merges the documents in Payload into the stored documents with the same key
type Update struct {
	TID     TransactionID
	Shard   ShardID
	Payload [][]byte
}

// Replace overwrites the stored documents with the same key
type Replace struct {
	TID     TransactionID
	Shard   ShardID
	Payload [][]byte
}

// Remove deletes the documents identified by the keys in Payload
type Remove struct {
	TID     TransactionID
	Shard   ShardID
	Payload [][]byte
}

func (AbortAllOngoingTrx) Kind() Kind { return KindAbortAllOngoingTrx }
func (Commit) Kind() Kind             { return KindCommit }
func (IntermediateCommit) Kind() Kind { return KindIntermediateCommit }
func (Abort) Kind() Kind              { return KindAbort }
func (Truncate) Kind() Kind           { return KindTruncate }
func (CreateShard) Kind() Kind        { return KindCreateShard }
func (ModifyShard) Kind() Kind        { return KindModifyShard }
func (DropShard) Kind() Kind          { return KindDropShard }
func (Insert) Kind() Kind             { return KindInsert }
func (Update) Kind() Kind             { return KindUpdate }
func (Replace) Kind() Kind            { return KindReplace }
func (Remove) Kind() Kind             { return KindRemove }

func (AbortAllOngoingTrx) operation() {}
func (Commit) operation()             {}
func (IntermediateCommit) operation() {}
func (Abort) operation()              {}
func (Truncate) operation()           {}
func (CreateShard) operation()        {}
func (ModifyShard) operation()        {}
func (DropShard) operation()          {}
func (Insert) operation()             {}
func (Update) operation()             {}
func (Replace) operation()            {}
func (Remove) operation()             {}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// TransactionOf returns the transaction an operation belongs to.
// Shard topology operations and AbortAllOngoingTrx belong to no transaction.
func TransactionOf(op Operation) (TransactionID, bool) {
	switch o := op.(type) {
	case Commit:
		return o.TID, true
	case IntermediateCommit:
		return o.TID, true
	case Abort:
		return o.TID, true
	case Truncate:
		return o.TID, true
	case Insert:
		return o.TID, true
	case Update:
		return o.TID, true
	case Replace:
		return o.TID, true
	case Remove:
		return o.TID, true
	default:
		return 0, false
	}
}

// ShardOf returns the shard an operation refers to
func ShardOf(op Operation) (ShardID, bool) {
	switch o := op.(type) {
	case Truncate:
		return o.Shard, true
	case CreateShard:
		return o.Shard, true
	case ModifyShard:
		return o.Shard, true
	case DropShard:
		return o.Shard, true
	case Insert:
		return o.Shard, true
	case Update:
		return o.Shard, true
	case Replace:
		return o.Shard, true
	case Remove:
		return o.Shard, true
	default:
		return "", false
	}
}

// PayloadOf returns the documents carried by a document operation
func PayloadOf(op Operation) [][]byte {
	switch o := op.(type) {
	case Insert:
		return o.Payload
	case Update:
		return o.Payload
	case Replace:
		return o.Payload
	case Remove:
		return o.Payload
	default:
		return nil
	}
}

// IsDocumentOperation reports whether op modifies documents inside a transaction
// (Insert, Update, Replace, Remove and Truncate).
func IsDocumentOperation(op Operation) bool {
	switch op.(type) {
	case Insert, Update, Replace, Remove, Truncate:
		return true
	default:
		return false
	}
}

// IsShardOperation reports whether op changes the shard topology
func IsShardOperation(op Operation) bool {
	switch op.(type) {
	case CreateShard, ModifyShard, DropShard:
		return true
	default:
		return false
	}
}

// IsTransactionBoundary reports whether op ends one or more transactions.
// The log may be released up to the last boundary that was applied.
func IsTransactionBoundary(op Operation) bool {
	switch op.(type) {
	case Commit, Abort, AbortAllOngoingTrx:
		return true
	default:
		return false
	}
}
