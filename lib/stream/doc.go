// Package stream contains the log buffer shared by the stream implementations.
//
// A stream is the replicated log a shard group is built upon (document.IStream).
// Two implementations exist:
//
//   - lstream: a local stream. Entries are appended in process, there is no
//     replication. It is used by single node groups and by tests.
//   - dstream: a replicated stream on top of the Dragonboat RAFT library. Entries
//     are proposed to the RAFT group and appended to the buffer of every replica
//     by the state machine once committed.
//
// Both keep committed entries in a Buffer until the state machine releases them.
// The Buffer assigns log indices in append order, so replicas that append the same
// committed sequence assign the same indices.
package stream
