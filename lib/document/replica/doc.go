// Package replica implements the replicated document state machine of a shard
// group: the LeaderState, the FollowerState and the Core they share.
//
// All replicas apply the log strictly in index order through a trxhandler.Handler.
// Each replica tracks the transactions that are still open in an
// activetrx.Queue and releases the log up to the first entry an open transaction
// still needs:
//
//   - The leader inserts every operation into the log and applies it under one
//     lock. Commit and Abort of transactions that are not active are dropped, so
//     duplicate client requests do not reach the log. Shard topology changes are
//     guarded by anonymous barriers until committed.
//   - A follower applies the entries handed to it by RunFollower and releases the
//     log up to the last transaction boundary (Commit, Abort, AbortAllOngoingTrx),
//     never past an entry an open transaction needs.
//
// A new or lagging follower calls AcquireSnapshot: it aborts its local
// transactions, drops its shards and pulls a snapshot from the leader batch by
// batch (see package snapshot).
//
// Errors while applying an entry are fatal: the replica may diverge from the
// leader, so it refuses all further work and the hosting process must stop it.
// Resign hands the Core back and makes all later or concurrent calls fail with
// document.ErrResigned.
package replica
