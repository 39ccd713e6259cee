// Package lstream implements a local, in-memory, single-node log based on the
// document.IStream interface.
//
// Insert appends directly to a stream.Buffer: an entry is committed as soon as it
// is inserted and indices are assigned in insertion order. Released entries are
// dropped from memory, nothing is persisted between process restarts.
//
// The local stream backs groups without replication (a single leader) and is the
// stream used by the state machine tests, where a leader and its followers can share
// one Stream value.
package lstream
