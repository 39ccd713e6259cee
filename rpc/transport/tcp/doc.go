// Package tcp implements the RPC transport over TCP sockets on top of the base package.
//
// The connectors apply the TCPConf and SocketConf settings (no delay, keep alive,
// linger and socket buffer sizes) to every connection. The server reads requests
// into pooled buffers of 512 KB.
package tcp
