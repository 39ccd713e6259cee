// Package cluster contains the cluster-wide collaborators of the replicated
// document state machine: the RebootTracker, which turns restarts of peers into
// callbacks, and a TransactionManager that aborts running user transactions.
package cluster
