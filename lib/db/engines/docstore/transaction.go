package docstore

import (
	"github.com/ValentinKolb/dDoc/lib/db/engines/docstore/internal"
	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
)

// transaction buffers the writes of one state machine transaction on one shard.
// The buffered writes become visible on Commit or IntermediateCommit.
//
// Thread-safety: A transaction is used by a single goroutine.
type transaction struct {
	store *docstoreImpl
	tid   ops.TransactionID
	shard ops.ShardID
	mode  document.AccessMode

	writes    map[string][]byte // nil value = removed
	order     []string          // keys of writes in insertion order
	truncated bool
	finished  bool
}

func newTransaction(store *docstoreImpl, tid ops.TransactionID, id ops.ShardID, mode document.AccessMode) *transaction {
	return &transaction{
		store:  store,
		tid:    tid,
		shard:  id,
		mode:   mode,
		writes: make(map[string][]byte),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see document.ITransaction)
// --------------------------------------------------------------------------

func (t *transaction) Apply(op ops.Operation) (document.ApplyResult, error) {
	if t.finished {
		return document.ApplyResult{}, document.Errorf(document.RetCInvalidOperation, "transaction %d is finished", t.tid)
	}
	if shard, ok := ops.ShardOf(op); !ok || shard != t.shard {
		return document.ApplyResult{}, document.Errorf(document.RetCInvalidOperation,
			"operation %s does not belong to shard %s", op.Kind(), t.shard)
	}

	if _, ok := op.(ops.Truncate); ok {
		t.truncated = true
		t.writes = make(map[string][]byte)
		t.order = nil
		return document.ApplyResult{}, nil
	}

	var result document.ApplyResult
	for _, body := range ops.PayloadOf(op) {
		if code := t.applyDocument(op.Kind(), body); code != document.RetCSuccess {
			result.ErrorCodes = append(result.ErrorCodes, code)
		}
	}
	return result, nil
}

func (t *transaction) Commit() error {
	if err := t.IntermediateCommit(); err != nil {
		return err
	}
	t.finished = true
	return nil
}

func (t *transaction) IntermediateCommit() error {
	if t.finished {
		return document.Errorf(document.RetCInvalidOperation, "transaction %d is finished", t.tid)
	}
	sh, ok := t.store.shards.Load(t.shard)
	if !ok {
		return document.Errorf(document.RetCShardNotFound, "shard %s was dropped", t.shard)
	}

	sh.mu.Lock()
	if t.truncated {
		sh.docs.Clear(false)
		sh.sizeBytes = 0
	}
	for _, key := range t.order {
		body := t.writes[key]
		if old, found := sh.docs.Delete(internal.Document{Key: key}); found {
			sh.sizeBytes -= uint64(len(old.Body))
		}
		if body != nil {
			sh.docs.ReplaceOrInsert(internal.Document{Key: key, Body: body})
			sh.sizeBytes += uint64(len(body))
		}
	}
	sh.mu.Unlock()

	t.writes = make(map[string][]byte)
	t.order = nil
	t.truncated = false
	return nil
}

func (t *transaction) Abort() error {
	t.writes = nil
	t.order = nil
	t.finished = true
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *transaction) applyDocument(kind ops.Kind, body []byte) document.RetCode {
	key, err := internal.ExtractKey(body)
	if err != nil {
		return document.RetCInvalidDocument
	}
	old, exists := t.get(key)

	switch kind {
	case ops.KindInsert:
		if exists {
			return document.RetCUniqueConstraintViolated
		}
		t.put(key, cloneBytes(body))
	case ops.KindReplace:
		if !exists {
			return document.RetCDocumentNotFound
		}
		t.put(key, cloneBytes(body))
	case ops.KindUpdate:
		if !exists {
			return document.RetCDocumentNotFound
		}
		merged, err := internal.MergeDocument(old, body)
		if err != nil {
			return document.RetCInvalidDocument
		}
		t.put(key, merged)
	case ops.KindRemove:
		if !exists {
			return document.RetCDocumentNotFound
		}
		t.put(key, nil)
	default:
		return document.RetCInvalidOperation
	}
	return document.RetCSuccess
}

// get returns the document as seen by this transaction
func (t *transaction) get(key string) ([]byte, bool) {
	if body, ok := t.writes[key]; ok {
		return body, body != nil
	}
	if t.truncated {
		return nil, false
	}
	return t.store.lookup(t.shard, key)
}

func (t *transaction) put(key string, body []byte) {
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = body
}
