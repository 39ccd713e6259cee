package docstore

import (
	"sync"

	"github.com/ValentinKolb/dDoc/lib/db/engines/docstore/internal"
	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
)

// databaseSnapshot is a read view over all shards. The view is made of
// copy-on-write clones of the shard trees, later commits do not change it.
type databaseSnapshot struct {
	store *docstoreImpl

	mu    sync.Mutex
	views map[ops.ShardID]*internal.Tree
}

func newDatabaseSnapshot(store *docstoreImpl) *databaseSnapshot {
	return &databaseSnapshot{
		store: store,
		views: store.views(),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see document.IDatabaseSnapshot)
// --------------------------------------------------------------------------

func (d *databaseSnapshot) CreateCollectionReader(id ops.ShardID) (document.ICollectionReader, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	view, ok := d.views[id]
	if !ok {
		return nil, document.Errorf(document.RetCShardNotFound, "shard %s is not part of the snapshot", id)
	}
	// each reader gets its own clone, so a reset does not pull the view from under it
	return &collectionReader{docs: view.Clone()}, nil
}

func (d *databaseSnapshot) ResetTransaction() error {
	views := d.store.views()

	d.mu.Lock()
	d.views = views
	d.mu.Unlock()
	return nil
}

// --------------------------------------------------------------------------
// Collection Reader
// --------------------------------------------------------------------------

// collectionReader iterates over the documents of one shard in key order
type collectionReader struct {
	docs      *internal.Tree
	cursor    string // key of the next document, "" = first
	exhausted bool
}

func (r *collectionReader) HasMore() bool {
	if r.exhausted {
		return false
	}
	more := false
	r.docs.AscendGreaterOrEqual(internal.Document{Key: r.cursor}, func(internal.Document) bool {
		more = true
		return false
	})
	if !more {
		r.exhausted = true
	}
	return more
}

func (r *collectionReader) GetDocCount() (uint64, bool) {
	return uint64(r.docs.Len()), true
}

func (r *collectionReader) Read(sink document.DocumentSink, softLimitBytes uint64) {
	if r.exhausted {
		return
	}

	var read uint64
	stopped := false
	r.docs.AscendGreaterOrEqual(internal.Document{Key: r.cursor}, func(doc internal.Document) bool {
		if read > 0 && read >= softLimitBytes {
			r.cursor = doc.Key
			stopped = true
			return false
		}
		sink(doc.Body)
		read += uint64(len(doc.Body))
		return true
	})
	if !stopped {
		r.exhausted = true
	}
}
