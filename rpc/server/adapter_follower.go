package server

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/rpc/common"
)

// NewFollowerServerAdapter creates the adapter of a group this server follows.
// Followers only report their local shards, everything else has to be sent to the leader.
func NewFollowerServerAdapter(groupID uint64, shards document.IShardHandler) IRPCServerAdapter {
	return &followerServerAdapterImpl{groupID: groupID, shards: shards}
}

type followerServerAdapterImpl struct {
	groupID uint64
	shards  document.IShardHandler
}

func (adapter *followerServerAdapterImpl) Handle(_ context.Context, req *common.Message) *common.Message {
	switch req.MsgType {
	case common.MsgTShardMap:
		return common.NewShardMapResponse(adapter.shards.GetShardMap(), nil)
	case common.MsgTSnapshotStart, common.MsgTSnapshotNext, common.MsgTSnapshotFinish, common.MsgTSnapshotStatus,
		common.MsgTShardCreate, common.MsgTShardModify, common.MsgTShardDrop,
		common.MsgTTrxBegin, common.MsgTDocInsert, common.MsgTDocUpdate, common.MsgTDocReplace, common.MsgTDocRemove,
		common.MsgTDocTruncate, common.MsgTTrxIntermediateCommit, common.MsgTTrxCommit, common.MsgTTrxAbort:
		return common.NewErrorResponse(document.RetCInvalidOperation,
			fmt.Sprintf("server follows group %d, send %s to the leader", adapter.groupID, req.MsgType))
	default:
		return unsupported(req)
	}
}

// unsupported is the response to message types no adapter handles
func unsupported(req *common.Message) *common.Message {
	return common.NewErrorResponse(document.RetCInvalidOperation, fmt.Sprintf("unsupported message type: %s", req.MsgType))
}
