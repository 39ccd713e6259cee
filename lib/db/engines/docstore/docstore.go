package docstore

import (
	"sort"
	"sync"

	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/db/engines/docstore/internal"
	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Core docstore structure
// --------------------------------------------------------------------------

// shard holds the documents of one shard
type shard struct {
	mu         sync.RWMutex
	collection ops.CollectionID
	properties []byte
	docs       *internal.Tree
	sizeBytes  uint64 // sum of all document sizes
}

// docstoreImpl is an in-memory document engine. Each shard is an ordered
// B-tree of JSON documents keyed by their "_key" attribute.
type docstoreImpl struct {
	shards *xsync.MapOf[ops.ShardID, *shard]
}

// NewDocstore creates a new, empty engine
//
// Thread-safety: All methods of the returned engine are safe for concurrent use.
func NewDocstore() db.Engine {
	return &docstoreImpl{
		shards: xsync.NewMapOf[ops.ShardID, *shard](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see document.IShardHandler)
// --------------------------------------------------------------------------

func (s *docstoreImpl) EnsureShard(id ops.ShardID, collection ops.CollectionID, properties []byte) error {
	s.shards.Compute(id, func(old *shard, loaded bool) (*shard, bool) {
		if loaded {
			old.mu.Lock()
			old.collection = collection
			old.properties = cloneBytes(properties)
			old.mu.Unlock()
			return old, false
		}
		return &shard{
			collection: collection,
			properties: cloneBytes(properties),
			docs:       internal.NewTree(),
		}, false
	})
	return nil
}

func (s *docstoreImpl) ModifyShard(id ops.ShardID, collection ops.CollectionID, properties []byte) error {
	sh, ok := s.shards.Load(id)
	if !ok {
		return document.Errorf(document.RetCShardNotFound, "shard %s does not exist", id)
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.collection = collection
	sh.properties = cloneBytes(properties)
	return nil
}

func (s *docstoreImpl) DropShard(id ops.ShardID) error {
	s.shards.Delete(id)
	return nil
}

func (s *docstoreImpl) DropAllShards() error {
	s.shards.Clear()
	return nil
}

func (s *docstoreImpl) IsShardAvailable(id ops.ShardID) bool {
	_, ok := s.shards.Load(id)
	return ok
}

func (s *docstoreImpl) GetShardMap() ops.ShardMap {
	result := make(ops.ShardMap)
	s.shards.Range(func(id ops.ShardID, sh *shard) bool {
		sh.mu.RLock()
		result[id] = ops.ShardProperties{
			Collection: sh.collection,
			Properties: cloneBytes(sh.properties),
		}
		sh.mu.RUnlock()
		return true
	})
	return result
}

func (s *docstoreImpl) GetAvailableShards() []ops.ShardID {
	var ids []ops.ShardID
	s.shards.Range(func(id ops.ShardID, _ *shard) bool {
		ids = append(ids, id)
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// --------------------------------------------------------------------------
// Interface Methods (docu see document.ITransactionFactory)
// --------------------------------------------------------------------------

func (s *docstoreImpl) CreateTransaction(tid ops.TransactionID, id ops.ShardID, mode document.AccessMode) (document.ITransaction, error) {
	if !s.IsShardAvailable(id) {
		return nil, document.Errorf(document.RetCShardNotFound, "shard %s does not exist", id)
	}
	return newTransaction(s, tid, id, mode), nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see document.IDatabaseSnapshotFactory)
// --------------------------------------------------------------------------

func (s *docstoreImpl) CreateSnapshot() (document.IDatabaseSnapshot, error) {
	return newDatabaseSnapshot(s), nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see db.Engine)
// --------------------------------------------------------------------------

func (s *docstoreImpl) GetInfo() db.DatabaseInfo {
	info := db.DatabaseInfo{DbType: db.ImplDocstore}
	s.shards.Range(func(_ ops.ShardID, sh *shard) bool {
		sh.mu.RLock()
		info.Shards++
		info.Documents += uint64(sh.docs.Len())
		info.SizeBytes += sh.sizeBytes
		sh.mu.RUnlock()
		return true
	})
	return info
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// lookup returns the committed version of a document
func (s *docstoreImpl) lookup(id ops.ShardID, key string) ([]byte, bool) {
	sh, ok := s.shards.Load(id)
	if !ok {
		return nil, false
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	doc, ok := sh.docs.Get(internal.Document{Key: key})
	if !ok {
		return nil, false
	}
	return doc.Body, true
}

// views clones the document trees of all shards
func (s *docstoreImpl) views() map[ops.ShardID]*internal.Tree {
	result := make(map[ops.ShardID]*internal.Tree)
	s.shards.Range(func(id ops.ShardID, sh *shard) bool {
		// Clone marks the nodes of the original as shared, so it needs the write lock
		sh.mu.Lock()
		result[id] = sh.docs.Clone()
		sh.mu.Unlock()
		return true
	})
	return result
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
