// Package snapshot implements the leader side of the snapshot transfer that
// brings a new or lagging follower up to date.
//
// A Snapshot is a paginated export of all shards of a group, read from one
// consistent read view of the storage engine. It moves from ongoing to either
// finished or aborted, both states are terminal:
//
//	Fetch  on a terminal snapshot      -> error
//	Finish on a finished snapshot      -> ok       Finish on an aborted snapshot -> error
//	Abort  on an aborted snapshot      -> ok       Abort on a finished snapshot  -> error
//
// For N shards with D(i) documents each and a batch size of L documents, a
// complete transfer consists of N shard-opening batches (a single CreateShard
// each), sum(ceil(D(i)/L)) data batches (Insert + Commit of a follower transaction)
// and one final, empty batch with HasMore == false.
//
// The Handler keeps the table of snapshots by id. Every snapshot is bound to the
// server id and reboot id of the follower that requested it. If that follower
// restarts, the reboot tracker fires and the snapshot is aborted and removed,
// so abandoned snapshots never pin a read view.
package snapshot
