// Package transport defines the interfaces for RPC communication in dDoc.
// Implementations move opaque request and response bytes between a client and a
// server and route every request to the replicated group it addresses.
//
// Key Components:
//
//   - IRPCClientTransport: client side, connection management and request sending.
//
//   - IRPCServerTransport: server side, receives requests and passes them to the
//     registered ServerHandleFunc.
//
// Implementations live in the sub packages: base (framed protocol shared by tcp
// and unix), tcp, unix and http.
package transport
