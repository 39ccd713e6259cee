package client

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter stores all data needed to send requests to one group of a server.
// Used by the RPC leader and admin clients with composition pattern
type rpcClientAdapter struct {
	groupID    uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// connect connects the transport and creates the adapter
func connect(groupID uint64, config common.ClientConfig, transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer) (rpcClientAdapter, error) {
	if err := transport.Connect(config); err != nil {
		return rpcClientAdapter{}, document.Errorf(document.RetCLeaderUnavailable, "failed to connect: %v", err)
	}
	return rpcClientAdapter{
		groupID:    groupID,
		config:     config,
		transport:  transport,
		serializer: serializer,
	}, nil
}

// invoke sends req to the group of the adapter (see invokeRPCRequest)
func (a *rpcClientAdapter) invoke(ctx context.Context, req *common.Message) (*common.Message, error) {
	return invokeRPCRequest(ctx, a.groupID, req, a.transport, a.serializer)
}

// Close closes the underlying transport
func (a *rpcClientAdapter) Close() error {
	return a.transport.Close()
}

// invokeRPCRequest is a helper function used for all RPC Clients to send requests.
// Errors of the server are returned as *document.Error with the code of the server,
// errors of the transport have the code RetCLeaderUnavailable.
// This method also checks if the type of the response is the expected type.
func invokeRPCRequest(ctx context.Context, groupID uint64, req *common.Message,
	transport transport.IRPCClientTransport, serializer serializer.IRPCSerializer) (*common.Message, error) {
	reqBytes, err := serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	respBytes, err := transport.Send(ctx, groupID, reqBytes)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, document.Errorf(document.RetCLeaderUnavailable, "request %s to group %d failed: %v", req.MsgType, groupID, err)
	}

	resp := &common.Message{}
	if err := serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("invalid response to %s: %w", req.MsgType, err)
	}

	if err := resp.Error(); err != nil {
		return nil, err
	}
	if resp.MsgType == common.MsgTError {
		return nil, document.NewError(document.RetCInternalError, "server responded with an error")
	}

	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
	}
	return resp, nil
}
