package transport

import (
	"context"

	"github.com/ValentinKolb/dDoc/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received
// It takes the id of the addressed group and a request as parameters and returns a response
type ServerHandleFunc func(groupID uint64, req []byte) (resp []byte)

// IRPCServerTransport is the interface for the RPC transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler should be called when a request is received
	RegisterHandler(handler ServerHandleFunc)
	// Listen starts the transport layer and blocks while serving requests.
	// It returns nil once Close was called.
	Listen(config common.ServerConfig) error
	// Close stops listening for new requests
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request for a group to the server and returns the response
	Send(ctx context.Context, groupID uint64, req []byte) (resp []byte, err error)
	// Close closes the transport connection
	Close() error
}
