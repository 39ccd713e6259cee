// Package rpc is the communication layer of dDoc. It connects followers with the
// leaders of their groups and exposes the administrative operations.
//
// The package is organized into several subpackages:
//
//   - common: the Message protocol, configuration structures, and logging.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets, HTTP).
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB).
//
//   - client: the RPC implementation of document.ILeaderInterface and an admin client.
//
//   - server: hosts the replicated groups and handles incoming requests.
package rpc
