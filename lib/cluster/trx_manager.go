package cluster

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ValentinKolb/dDoc/lib/document/ops"
)

// TransactionManager keeps the cancel functions of running user transactions.
// Aborting a transaction calls its cancel function once.
//
// Thread-safety: All methods are safe for concurrent use.
type TransactionManager struct {
	mu      sync.Mutex
	managed map[ops.TransactionID]func()
	next    ops.TransactionID
}

// NewTransactionManager creates an empty transaction manager.
// Ids are seeded from the clock, so a restarted server does not reuse the ids
// of its previous run.
func NewTransactionManager() *TransactionManager {
	return &TransactionManager{
		managed: make(map[ops.TransactionID]func()),
		next:    ops.TransactionID(uint64(time.Now().UnixMicro())<<2 | 1),
	}
}

// Begin opens a leader transaction and registers it. onAbort is called once if the
// transaction is aborted through AbortManagedTrx.
func (m *TransactionManager) Begin(onAbort func(ops.TransactionID)) ops.TransactionID {
	m.mu.Lock()
	defer m.mu.Unlock()

	tid := m.next
	m.next += 4
	m.managed[tid] = func() { onAbort(tid) }
	return tid
}

// Register adds a running transaction
func (m *TransactionManager) Register(tid ops.TransactionID, cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.managed[tid] = cancel
}

// Unregister removes a transaction that ended on its own
func (m *TransactionManager) Unregister(tid ops.TransactionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.managed, tid)
}

// IsManaged reports whether tid is running
func (m *TransactionManager) IsManaged(tid ops.TransactionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.managed[tid]
	return ok
}

// Managed returns the ids of all running transactions in ascending order
func (m *TransactionManager) Managed() []ops.TransactionID {
	m.mu.Lock()
	defer m.mu.Unlock()

	tids := make([]ops.TransactionID, 0, len(m.managed))
	for tid := range m.managed {
		tids = append(tids, tid)
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })
	return tids
}

// AbortManagedTrx implements document.ITransactionManager.
// Unknown transactions are ignored, they already ended.
func (m *TransactionManager) AbortManagedTrx(_ context.Context, tid ops.TransactionID, database string) error {
	m.mu.Lock()
	cancel, ok := m.managed[tid]
	delete(m.managed, tid)
	m.mu.Unlock()

	if !ok {
		log.Debugf("abort of unknown transaction %d in %s ignored", tid, database)
		return nil
	}
	cancel()
	log.Infof("aborted transaction %d in %s", tid, database)
	return nil
}
