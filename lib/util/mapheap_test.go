package util

import (
	"container/heap"
	"math/rand"
	"sort"
	"testing"
)

// TestNewMapHeap tests the creation of a new MapHeap
func TestNewMapHeap(t *testing.T) {
	mh := NewMapHeap[uint64]()

	if mh.Len() != 0 {
		t.Errorf("New heap should be empty, but has length %d", mh.Len())
	}

	if len(mh.itemsMap) != 0 {
		t.Errorf("New heap's map should be empty, but has %d items", len(mh.itemsMap))
	}
}

// TestUpdateItem tests updating existing items
func TestUpdateItem(t *testing.T) {
	mh := NewMapHeap[string]()

	mh.AddItem("a", 100)
	mh.AddItem("b", 200)

	// Increase priority of a
	mh.AddItem("a", 300)

	item, exists := mh.GetByKey("a")
	if !exists {
		t.Fatal("Item with key a should exist")
	}
	if item.Priority != 300 {
		t.Errorf("Item with key a should have priority 300, got %d", item.Priority)
	}

	min, _ := mh.Peek()
	if min.Key != "b" {
		t.Errorf("Min item should now be key b, got %s", min.Key)
	}

	// Update to lower value
	mh.AddItem("b", 50)
	min, _ = mh.Peek()
	if min.Key != "b" || min.Priority != 50 {
		t.Errorf("Min item should now be (b,50), got %s", min)
	}
}

// TestRemoveByKey tests removing items by key
func TestRemoveByKey(t *testing.T) {
	mh := NewMapHeap[uint64]()

	mh.AddItem(1, 100)
	mh.AddItem(2, 200)
	mh.AddItem(3, 300)

	value, exists := mh.RemoveByKey(2)
	if !exists {
		t.Fatal("RemoveByKey should return true for existing key")
	}
	if value != 200 {
		t.Errorf("RemoveByKey should return value 200, got %d", value)
	}
	if mh.Len() != 2 {
		t.Errorf("Heap should have 2 items after removal, has %d", mh.Len())
	}
	if mh.Contains(2) {
		t.Error("Heap should not contain key 2 after removal")
	}

	if _, exists = mh.RemoveByKey(99); exists {
		t.Error("RemoveByKey should return false for non-existent key")
	}
}

// TestPopOrder tests if items are popped in correct order
func TestPopOrder(t *testing.T) {
	mh := NewMapHeap[uint64]()

	items := []struct {
		key   uint64
		value uint64
	}{
		{5, 50},
		{3, 30},
		{1, 10},
		{4, 40},
		{2, 20},
	}

	for _, item := range items {
		mh.AddItem(item.key, item.value)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].value < items[j].value
	})

	for i, expected := range items {
		if mh.Len() == 0 {
			t.Fatalf("Heap empty after %d items, expected %d items", i, len(items))
		}

		item := heap.Pop(mh).(*Item[uint64])
		if item.Key != expected.key || item.Priority != expected.value {
			t.Errorf("Pop %d: expected (%d,%d), got (%d,%d)",
				i, expected.key, expected.value, item.Key, item.Priority)
		}
	}

	if mh.Len() != 0 {
		t.Errorf("Heap should be empty after popping all items, has %d items", mh.Len())
	}
}

// TestPeekEmptyHeap tests behavior when peeking an empty heap
func TestPeekEmptyHeap(t *testing.T) {
	mh := NewMapHeap[uint64]()

	if _, exists := mh.Peek(); exists {
		t.Error("Peek on empty heap should return exists=false")
	}
}

// TestRandomRemovals checks that the minimum stays correct under random removals
func TestRandomRemovals(t *testing.T) {
	mh := NewMapHeap[int]()
	rng := rand.New(rand.NewSource(42))

	remaining := map[int]uint64{}
	for i := 0; i < 500; i++ {
		priority := uint64(rng.Intn(10_000))
		mh.AddItem(i, priority)
		remaining[i] = priority
	}

	for len(remaining) > 0 {
		// remove a random key
		keys := mh.Keys()
		key := keys[rng.Intn(len(keys))]
		mh.RemoveByKey(key)
		delete(remaining, key)

		if len(remaining) == 0 {
			break
		}

		want := uint64(1 << 63)
		for _, p := range remaining {
			if p < want {
				want = p
			}
		}
		min, ok := mh.Peek()
		if !ok || min.Priority != want {
			t.Fatalf("expected min priority %d, got %v", want, min)
		}
	}

	mh.AddItem(1, 1)
	mh.Clear()
	if mh.Len() != 0 || mh.Contains(1) {
		t.Error("Clear should remove all items")
	}
}
