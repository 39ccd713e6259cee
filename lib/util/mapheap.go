// Package util
//
// This file provides a priority queue that combines a binary heap with a hash map.
//
// The heap gives the item with the lowest priority in O(1) and supports push and
// removal in O(log n). The map gives O(1) access and existence checks by key, and
// O(log n) removal by key.
//
// The queue is not thread-safe, callers must synchronize access.
//
// Example usage:
//
//	// Create a new queue
//	queue := NewMapHeap[string]()
//
//	// Add items with keys and priorities
//	queue.AddItem("trx-5", 12)
//	queue.AddItem("trx-9", 14)
//
//	// Get the lowest priority
//	lowest, exists := queue.Peek()
//
//	// Remove a specific item
//	queue.RemoveByKey("trx-5")
package util

import (
	"container/heap"
	"fmt"
)

// Item is an entry of a MapHeap
type Item[K comparable] struct {
	Key      K      // Unique identifier for the item
	Priority uint64 // Priority used for ordering in the heap
	index    int    // Index in the heap, maintained by heap package
}

func (i *Item[K]) String() string {
	return fmt.Sprintf("{Key: %v, Priority: %d}", i.Key, i.Priority)
}

// MapHeap is a min-heap by priority with key-based access
type MapHeap[K comparable] struct {
	items    []*Item[K]     // The actual heap slice
	itemsMap map[K]*Item[K] // Map for O(1) access by key
}

// NewMapHeap creates a new, empty queue
func NewMapHeap[K comparable]() *MapHeap[K] {
	return &MapHeap[K]{
		items:    make([]*Item[K], 0),
		itemsMap: make(map[K]*Item[K]),
	}
}

// Len returns the number of items in the queue (part of heap.Interface)
func (mh *MapHeap[K]) Len() int { return len(mh.items) }

// Less compares items by priority (part of heap.Interface)
func (mh *MapHeap[K]) Less(i, j int) bool {
	return mh.items[i].Priority < mh.items[j].Priority
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (mh *MapHeap[K]) Swap(i, j int) {
	mh.items[i], mh.items[j] = mh.items[j], mh.items[i]
	mh.items[i].index = i
	mh.items[j].index = j
}

// Push adds an item to the heap (part of heap.Interface)
func (mh *MapHeap[K]) Push(x interface{}) {
	item := x.(*Item[K])
	item.index = len(mh.items)
	mh.items = append(mh.items, item)
	mh.itemsMap[item.Key] = item
}

// Pop removes and returns the minimum item (part of heap.Interface)
func (mh *MapHeap[K]) Pop() interface{} {
	old := mh.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // Avoid memory leak
	item.index = -1
	mh.items = old[:n-1]
	delete(mh.itemsMap, item.Key)
	return item
}

// AddItem adds a new item to the queue or updates the priority of an existing one
func (mh *MapHeap[K]) AddItem(key K, priority uint64) {
	if item, exists := mh.itemsMap[key]; exists {
		item.Priority = priority
		heap.Fix(mh, item.index)
		return
	}
	heap.Push(mh, &Item[K]{Key: key, Priority: priority})
}

// RemoveByKey removes an item by its key and returns its priority
func (mh *MapHeap[K]) RemoveByKey(key K) (uint64, bool) {
	item, exists := mh.itemsMap[key]
	if !exists {
		return 0, false
	}
	heap.Remove(mh, item.index)
	return item.Priority, true
}

// Peek returns the item with the lowest priority without removing it
func (mh *MapHeap[K]) Peek() (*Item[K], bool) {
	if len(mh.items) == 0 {
		return nil, false
	}
	return mh.items[0], true
}

// Contains checks if a key exists in the queue
func (mh *MapHeap[K]) Contains(key K) bool {
	_, exists := mh.itemsMap[key]
	return exists
}

// GetByKey retrieves an item by its key without removing it
func (mh *MapHeap[K]) GetByKey(key K) (*Item[K], bool) {
	item, exists := mh.itemsMap[key]
	return item, exists
}

// Keys returns the keys of all items in unspecified order
func (mh *MapHeap[K]) Keys() []K {
	keys := make([]K, 0, len(mh.items))
	for _, item := range mh.items {
		keys = append(keys, item.Key)
	}
	return keys
}

// Clear removes all items
func (mh *MapHeap[K]) Clear() {
	mh.items = make([]*Item[K], 0)
	mh.itemsMap = make(map[K]*Item[K])
}
