// Package activetrx tracks which transactions (and anonymous barriers) are still in
// flight and derives the release index of the replicated log from them.
//
// Every active key remembers the log index at which it became active. The release
// index is the smallest such index minus one: no entry at or below it is needed by
// any open transaction anymore, so the log may discard it.
package activetrx

import (
	"fmt"
	"sort"

	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/ValentinKolb/dDoc/lib/util"
)

// Key identifies an active entry: either a transaction or an anonymous barrier
type Key struct {
	barrier bool
	id      uint64
}

// TransactionKey returns the key of a transaction
func TransactionKey(tid ops.TransactionID) Key {
	return Key{id: uint64(tid)}
}

// BarrierKey returns the key of an anonymous barrier placed at idx
func BarrierKey(idx ops.LogIndex) Key {
	return Key{barrier: true, id: uint64(idx)}
}

// Transaction returns the transaction id of a transaction key
func (k Key) Transaction() (ops.TransactionID, bool) {
	return ops.TransactionID(k.id), !k.barrier
}

func (k Key) String() string {
	if k.barrier {
		return fmt.Sprintf("barrier@%d", k.id)
	}
	return fmt.Sprintf("trx:%d", k.id)
}

// Queue is the set of active keys. It is not thread-safe.
type Queue struct {
	active *util.MapHeap[Key]
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{active: util.NewMapHeap[Key]()}
}

// MarkAsActive records that key became active at idx.
// Marking a key that is already active is a programming error and panics.
func (q *Queue) MarkAsActive(key Key, idx ops.LogIndex) {
	if q.active.Contains(key) {
		panic(fmt.Sprintf("activetrx: %s is already active", key))
	}
	q.active.AddItem(key, uint64(idx))
}

// MarkAsInactive removes key. It returns false if the key was not active.
func (q *Queue) MarkAsInactive(key Key) bool {
	_, ok := q.active.RemoveByKey(key)
	return ok
}

// IsActive reports whether key is active
func (q *Queue) IsActive(key Key) bool {
	return q.active.Contains(key)
}

// ReleaseIndex returns the smallest active index minus one.
// The boolean is false if nothing is active, i.e. the release index is unbounded.
func (q *Queue) ReleaseIndex() (ops.LogIndex, bool) {
	min, ok := q.active.Peek()
	if !ok {
		return 0, false
	}
	if min.Priority == 0 {
		return 0, true
	}
	return ops.LogIndex(min.Priority - 1), true
}

// Transactions returns the ids of all active transactions in ascending order.
// Barriers are not included.
func (q *Queue) Transactions() []ops.TransactionID {
	var tids []ops.TransactionID
	for _, key := range q.active.Keys() {
		if tid, ok := key.Transaction(); ok {
			tids = append(tids, tid)
		}
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })
	return tids
}

// Len returns the number of active keys (transactions and barriers)
func (q *Queue) Len() int {
	return q.active.Len()
}

// Clear removes all keys
func (q *Queue) Clear() {
	q.active.Clear()
}
