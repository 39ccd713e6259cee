// Package document contains the shared vocabulary of the replicated document state
// machine: the error taxonomy, the interfaces of the external collaborators the
// state machine is built upon, and the message shapes of the snapshot transfer
// protocol.
//
// The state machine itself is split into the sub packages
//
//   - ops: the operations written to the replicated log
//   - activetrx: bookkeeping of in-flight transactions and the release index
//   - trxhandler: application of log entries to storage transactions
//   - snapshot: the leader side of the snapshot transfer
//   - replica: leader and follower state of a replicated shard group
//
// Collaborators (implemented outside of the state machine):
//
//   - IStream: the replicated log (insert, wait, iterate, release)
//   - IShardHandler: creation and removal of local shards
//   - ITransactionFactory / ITransaction: storage engine transactions
//   - IDatabaseSnapshotFactory / IDatabaseSnapshot / ICollectionReader: consistent read views
//   - IRebootTracker: liveness subscriptions on peers
//   - ITransactionManager: the manager of user transactions on the leader
//   - ILeaderInterface: the follower's view of the leader (snapshot RPCs)
package document
