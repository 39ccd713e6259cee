package client

import (
	"context"
	"encoding/json"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
)

// NewRPCAdmin creates a client for the administrative operations of group groupID:
// snapshot status and shard topology.
func NewRPCAdmin(
	groupID uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*RPCAdmin, error) {
	adapter, err := connect(groupID, config, transport, serializer)
	if err != nil {
		return nil, err
	}
	return &RPCAdmin{rpcClientAdapter: adapter}, nil
}

// RPCAdmin sends administrative requests to the leader of a group
type RPCAdmin struct {
	rpcClientAdapter
}

// SnapshotStatus returns the status of the snapshot id
func (a *RPCAdmin) SnapshotStatus(ctx context.Context, id document.SnapshotID) (document.SnapshotStatus, error) {
	var status document.SnapshotStatus
	if id == "" {
		return status, document.ErrSnapshotNotFound
	}
	err := a.invokeJSON(ctx, common.NewSnapshotStatusRequest(id), &status)
	return status, err
}

// AllSnapshotsStatus returns the status of all snapshots of the group
func (a *RPCAdmin) AllSnapshotsStatus(ctx context.Context) (document.AllSnapshotsStatus, error) {
	var status document.AllSnapshotsStatus
	err := a.invokeJSON(ctx, common.NewSnapshotStatusRequest(""), &status)
	return status, err
}

// CreateShard creates a shard on the leader and its followers
func (a *RPCAdmin) CreateShard(ctx context.Context, shard ops.ShardID, collection ops.CollectionID, properties []byte) error {
	_, err := a.invoke(ctx, common.NewShardCreateRequest(string(shard), string(collection), properties))
	return err
}

// ModifyShard changes the properties of a shard
func (a *RPCAdmin) ModifyShard(ctx context.Context, shard ops.ShardID, collection ops.CollectionID, properties []byte) error {
	_, err := a.invoke(ctx, common.NewShardModifyRequest(string(shard), string(collection), properties))
	return err
}

// DropShard drops a shard with all its documents
func (a *RPCAdmin) DropShard(ctx context.Context, shard ops.ShardID, collection ops.CollectionID) error {
	_, err := a.invoke(ctx, common.NewShardDropRequest(string(shard), string(collection)))
	return err
}

// ShardMap returns all shards of the group
func (a *RPCAdmin) ShardMap(ctx context.Context) (ops.ShardMap, error) {
	shards := ops.ShardMap{}
	err := a.invokeJSON(ctx, common.NewShardMapRequest(), &shards)
	return shards, err
}

// invokeJSON sends req and decodes the json value of the response into v
func (a *RPCAdmin) invokeJSON(ctx context.Context, req *common.Message, v any) error {
	resp, err := a.invoke(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Value, v); err != nil {
		return document.Errorf(document.RetCInternalError, "invalid %s response: %v", req.MsgType, err)
	}
	return nil
}
