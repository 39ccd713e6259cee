// Package unix implements the RPC transport over unix domain sockets on top of
// the base package. It is meant for clients on the same host as the server,
// e.g. the command line tools. An existing socket file is replaced on Listen.
package unix
