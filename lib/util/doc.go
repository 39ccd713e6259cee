// Package util provides small generic data structures and helpers shared by the
// document state machine and the server:
//
//   - MapHeap: a min-heap with O(1) key lookup, the basis of the active transaction queue
//   - SizeHistogram: bucketed size distribution, used for snapshot statistics
//   - HashString: FNV-1a string hashing, used to derive numeric replica ids
package util
