// Package internal provides the snapshot format and the query types of the dstream
// state machine.
//
// Log entries are proposed to the RAFT group in the binary encoding of the ops
// package, so no command type is needed. Queries are executed locally on the state
// machine and are never serialized.
//
// Snapshot Format:
//
//	A snapshot holds the entries a replica did not release yet:
//
//	- 8 bytes: magic "DDOCLOG\x00"
//	- 8 bytes: last appended index (uint64, big endian)
//	- 8 bytes: index of the first held entry (uint64, big endian)
//	- the held operations as an operation list
//
//	Indices of the entries are not stored, they follow from the first index.
package internal
