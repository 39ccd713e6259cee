// Package dstream implements a replicated log (document.IStream) on top of the
// Dragonboat RAFT library.
//
// Every replicated group of the document state machine is one RAFT shard. Its
// RAFT state machine (LogStateMachine) does not interpret operations: it decodes
// each committed entry and appends it to a stream.Buffer. Since all replicas apply
// the same committed sequence, they assign the same log indices. The state machine
// returns the assigned index as the result of the proposal, so Insert on the
// proposing node learns the index once the entry is applied locally.
//
// The document state machine (leader or follower state) reads from the buffer
// through the Stream, in the same way it reads from a local stream:
//
//	registry := dstream.NewRegistry()
//	_ = nh.StartConcurrentReplica(members, false, dstream.CreateStateMachineFactory(registry), cfg)
//	s := dstream.NewDistributedStream(nh, shardID, timeout, registry)
//
// Snapshots of the RAFT shard contain the entries that were not released yet.
// Released entries are gone: a replica that recovers from a RAFT snapshot behind
// the release point of the document state machine needs a snapshot transfer of
// the documents (see package snapshot).
//
// Thread-safety: Stream and Registry are safe for concurrent use. Dragonboat calls
// Update, PrepareSnapshot and Lookup according to the IConcurrentStateMachine
// contract.
package dstream
