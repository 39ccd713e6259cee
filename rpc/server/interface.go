package server

import (
	"context"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/ValentinKolb/dDoc/lib/document/replica"
	"github.com/ValentinKolb/dDoc/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters.
// An adapter answers the requests addressed to one group. Errors are set in the response.
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response
	Handle(ctx context.Context, req *common.Message) (resp *common.Message)
}

// ILeaderService contains the leader operations exposed via RPC (implemented by replica.LeaderState)
type ILeaderService interface {
	SnapshotStart(ctx context.Context, peer document.PeerState) (document.SnapshotConfig, error)
	SnapshotNext(ctx context.Context, id document.SnapshotID) (document.SnapshotBatch, error)
	SnapshotFinish(ctx context.Context, id document.SnapshotID) error
	SnapshotStatus(id document.SnapshotID) (document.SnapshotStatus, error)
	AllSnapshotsStatus() (document.AllSnapshotsStatus, error)

	CreateShard(ctx context.Context, shard ops.ShardID, collection ops.CollectionID, properties []byte) error
	ModifyShard(ctx context.Context, shard ops.ShardID, collection ops.CollectionID, properties []byte) error
	DropShard(ctx context.Context, shard ops.ShardID, collection ops.CollectionID) error
	GetShardMap() (ops.ShardMap, error)

	ReplicateOperation(ctx context.Context, op ops.Operation, opts replica.ReplicationOptions) (ops.LogIndex, error)
	Release(tid ops.TransactionID, idx ops.LogIndex)
}

// ITransactionRegistry opens the leader transactions of clients and learns which
// of them were aborted by the leader (implemented by cluster.TransactionManager)
type ITransactionRegistry interface {
	Begin(onAbort func(ops.TransactionID)) ops.TransactionID
	IsManaged(tid ops.TransactionID) bool
	Unregister(tid ops.TransactionID)
}

// IServerStateTracker learns the reboot ids of peers from their requests (implemented by cluster.RebootTracker)
type IServerStateTracker interface {
	UpdateServerState(serverID string, rebootID uint64)
}

var (
	_ ILeaderService       = (*replica.LeaderState)(nil)
	_ ITransactionRegistry = (*cluster.TransactionManager)(nil)
	_ IServerStateTracker  = (*cluster.RebootTracker)(nil)
)
