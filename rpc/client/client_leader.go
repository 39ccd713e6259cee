package client

import (
	"context"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
)

// NewRPCLeader creates the follower's view of the leader of group groupID.
// peer identifies the follower process, the leader aborts the snapshots of
// the follower once it restarts.
func NewRPCLeader(
	groupID uint64,
	peer document.PeerState,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*RPCLeader, error) {
	adapter, err := connect(groupID, config, transport, serializer)
	if err != nil {
		return nil, err
	}
	return &RPCLeader{rpcClientAdapter: adapter, peer: peer}, nil
}

// RPCLeader implements document.ILeaderInterface via RPC
type RPCLeader struct {
	rpcClientAdapter
	peer document.PeerState
}

var _ document.ILeaderInterface = (*RPCLeader)(nil)

// --------------------------------------------------------------------------
// Interface Methods (docu see document.ILeaderInterface)
// --------------------------------------------------------------------------

func (l *RPCLeader) StartSnapshot(ctx context.Context) (document.SnapshotConfig, error) {
	var config document.SnapshotConfig

	resp, err := l.invoke(ctx, common.NewSnapshotStartRequest(l.peer))
	if err != nil {
		return config, err
	}
	if err := config.UnmarshalBinary(resp.Value); err != nil {
		return config, document.Errorf(document.RetCInternalError, "invalid snapshot config: %v", err)
	}
	return config, nil
}

func (l *RPCLeader) NextSnapshotBatch(ctx context.Context, id document.SnapshotID) (document.SnapshotBatch, error) {
	var batch document.SnapshotBatch

	resp, err := l.invoke(ctx, common.NewSnapshotNextRequest(id))
	if err != nil {
		return batch, err
	}
	if err := batch.UnmarshalBinary(resp.Value); err != nil {
		return batch, document.Errorf(document.RetCInternalError, "invalid snapshot batch: %v", err)
	}
	return batch, nil
}

func (l *RPCLeader) FinishSnapshot(ctx context.Context, id document.SnapshotID) error {
	_, err := l.invoke(ctx, common.NewSnapshotFinishRequest(id))
	return err
}
