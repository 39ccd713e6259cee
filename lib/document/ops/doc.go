// Package ops defines the operations that are written to the replicated log of a
// document shard group, together with the identifiers they refer to.
//
// Every Operation is an immutable value. Its meaning is defined only by its position
// in the log: replicas apply the operations strictly in log order.
//
// The set of operations is closed. Consumers use an exhaustive type switch:
//
//	switch o := op.(type) {
//	case ops.Insert:
//	    ...
//	case ops.Commit:
//	    ...
//	}
//
// Key Components:
//
//   - Operation: the sum type of all loggable actions (transaction control, shard
//     topology changes and document mutations).
//
//   - TransactionID: identifier of a state machine transaction. Leader and follower
//     originated ids live in disjoint classes of the same numeric space.
//
//   - Serialize / Deserialize: the compact binary encoding used for the log and for
//     snapshot batches sent over the wire.
package ops
