// Package cmd implements the command-line interface of dDoc. It provides
// commands to run a server hosting replicated document groups and to
// administrate a running group leader.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a server with its leader and follower groups
//   - snapshot: Inspects snapshots of a leader and pulls a complete snapshot
//   - shard: Lists, creates, modifies and drops shards of a group
//   - doc: Opens transactions and replicates document operations through the leader
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See ddoc -help for a list of all commands.
package cmd
