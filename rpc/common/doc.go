// Package common provides the data structures shared by the RPC client, server
// and transports of dDoc.
//
// Key Components:
//
//   - Message: the single request/response structure of all RPC calls. Snapshot
//     configs and batches travel binary encoded in Value, statuses and shard maps
//     as JSON. Errors keep their document.RetCode, so a client restores the same
//     error a local call would have returned.
//
//   - ServerConfig: the groups a server hosts (leader or follower), the stream
//     type (local or raft) and the RAFT parameters, with helpers converting it to
//     the Dragonboat configuration.
//
//   - ClientConfig: endpoints, timeouts and retry behavior of clients.
//
//   - InitLoggers: installs a zap backed logger factory for all named loggers
//     (Dragonboat's and dDoc's).
package common
