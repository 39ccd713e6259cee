package server

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/ValentinKolb/dDoc/lib/document/replica"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/buger/jsonparser"
	"github.com/puzpuzpuz/xsync/v3"
)

// NewLeaderServerAdapter creates the adapter of a group this server leads.
// Client transactions are opened in trx, the leader aborts them through it.
func NewLeaderServerAdapter(leader ILeaderService, tracker IServerStateTracker, trx ITransactionRegistry) IRPCServerAdapter {
	return &leaderServerAdapterImpl{
		leader:  leader,
		tracker: tracker,
		trx:     trx,
		aborted: xsync.NewMapOf[ops.TransactionID, struct{}](),
		shards:  xsync.NewMapOf[ops.TransactionID, ops.ShardID](),
	}
}

type leaderServerAdapterImpl struct {
	leader  ILeaderService
	tracker IServerStateTracker
	trx     ITransactionRegistry

	// transactions aborted by the leader, kept until the client aborts or commits them
	aborted *xsync.MapOf[ops.TransactionID, struct{}]
	// a transaction works on the shard of its first document operation
	shards *xsync.MapOf[ops.TransactionID, ops.ShardID]
}

func (adapter *leaderServerAdapterImpl) Handle(ctx context.Context, req *common.Message) *common.Message {
	switch req.MsgType {
	case common.MsgTSnapshotStart:
		if req.ServerID == "" {
			return common.NewSnapshotStartResponse(document.SnapshotConfig{},
				document.NewError(document.RetCInvalidOperation, "snapshot start without server id"))
		}
		peer := document.PeerState{ServerID: req.ServerID, RebootID: req.RebootID}
		// a start request proves that the peer runs with this reboot id
		adapter.tracker.UpdateServerState(peer.ServerID, peer.RebootID)
		config, err := adapter.leader.SnapshotStart(ctx, peer)
		return common.NewSnapshotStartResponse(config, err)

	case common.MsgTSnapshotNext:
		batch, err := adapter.leader.SnapshotNext(ctx, document.SnapshotID(req.SnapshotID))
		return common.NewSnapshotNextResponse(batch, err)

	case common.MsgTSnapshotFinish:
		err := adapter.leader.SnapshotFinish(ctx, document.SnapshotID(req.SnapshotID))
		return common.NewSnapshotFinishResponse(err)

	case common.MsgTSnapshotStatus:
		if req.SnapshotID == "" {
			status, err := adapter.leader.AllSnapshotsStatus()
			return common.NewSnapshotStatusResponse(status, err)
		}
		status, err := adapter.leader.SnapshotStatus(document.SnapshotID(req.SnapshotID))
		return common.NewSnapshotStatusResponse(status, err)

	case common.MsgTShardCreate:
		err := adapter.leader.CreateShard(ctx, ops.ShardID(req.Shard), ops.CollectionID(req.Collection), req.Value)
		return common.NewShardResponse(req.MsgType, err)

	case common.MsgTShardModify:
		err := adapter.leader.ModifyShard(ctx, ops.ShardID(req.Shard), ops.CollectionID(req.Collection), req.Value)
		return common.NewShardResponse(req.MsgType, err)

	case common.MsgTShardDrop:
		err := adapter.leader.DropShard(ctx, ops.ShardID(req.Shard), ops.CollectionID(req.Collection))
		return common.NewShardResponse(req.MsgType, err)

	case common.MsgTShardMap:
		shards, err := adapter.leader.GetShardMap()
		return common.NewShardMapResponse(shards, err)

	case common.MsgTTrxBegin:
		// a resigned leader opens no transactions
		if _, err := adapter.leader.GetShardMap(); err != nil {
			return common.NewTrxBeginResponse(0, err)
		}
		return common.NewTrxBeginResponse(adapter.trx.Begin(adapter.onAbort), nil)

	case common.MsgTDocInsert, common.MsgTDocUpdate, common.MsgTDocReplace, common.MsgTDocRemove, common.MsgTDocTruncate:
		op, err := adapter.documentOperation(req)
		if err != nil {
			return common.NewReplicatedResponse(req.MsgType, 0, err)
		}
		idx, err := adapter.leader.ReplicateOperation(ctx, op, replica.ReplicationOptions{})
		return common.NewReplicatedResponse(req.MsgType, idx, err)

	case common.MsgTTrxIntermediateCommit:
		tid := ops.TransactionID(req.TID)
		if err := adapter.checkRunning(tid); err != nil {
			return common.NewReplicatedResponse(req.MsgType, 0, err)
		}
		idx, err := adapter.leader.ReplicateOperation(ctx, ops.IntermediateCommit{TID: tid},
			replica.ReplicationOptions{WaitForCommit: true})
		return common.NewReplicatedResponse(req.MsgType, idx, err)

	case common.MsgTTrxCommit:
		tid := ops.TransactionID(req.TID)
		if _, ok := adapter.aborted.LoadAndDelete(tid); ok {
			return common.NewReplicatedResponse(req.MsgType, 0, errAbortedByLeader(tid))
		}
		return adapter.finish(ctx, req.MsgType, ops.Commit{TID: tid})

	case common.MsgTTrxAbort:
		tid := ops.TransactionID(req.TID)
		if _, ok := adapter.aborted.LoadAndDelete(tid); ok {
			return common.NewReplicatedResponse(req.MsgType, 0, nil)
		}
		return adapter.finish(ctx, req.MsgType, ops.Abort{TID: tid})

	default:
		return unsupported(req)
	}
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

func (adapter *leaderServerAdapterImpl) onAbort(tid ops.TransactionID) {
	adapter.aborted.Store(tid, struct{}{})
	adapter.shards.Delete(tid)
	Logger.Infof("transaction %d aborted by the leader", tid)
}

// finish replicates the Commit or Abort of tid and releases the transaction
func (adapter *leaderServerAdapterImpl) finish(ctx context.Context, msgType common.MessageType, op ops.Operation) *common.Message {
	tid, _ := ops.TransactionOf(op)
	if err := adapter.checkRunning(tid); err != nil {
		return common.NewReplicatedResponse(msgType, 0, err)
	}

	idx, err := adapter.leader.ReplicateOperation(ctx, op, replica.ReplicationOptions{WaitForCommit: true})
	// idx > 0: the entry is in the log even if waiting for the commit failed
	if err == nil || idx > 0 {
		if idx > 0 {
			adapter.leader.Release(tid, idx)
		}
		adapter.trx.Unregister(tid)
		adapter.shards.Delete(tid)
	}
	return common.NewReplicatedResponse(msgType, idx, err)
}

func (adapter *leaderServerAdapterImpl) checkRunning(tid ops.TransactionID) error {
	if _, ok := adapter.aborted.Load(tid); ok {
		return errAbortedByLeader(tid)
	}
	if !adapter.trx.IsManaged(tid) {
		return document.Errorf(document.RetCInvalidOperation, "transaction %d is not running", tid)
	}
	return nil
}

func errAbortedByLeader(tid ops.TransactionID) error {
	return document.Errorf(document.RetCInvalidOperation, "transaction %d was aborted by the leader", tid)
}

// documentOperation builds the operation of a document request. Documents are
// checked here: the leader must not fail to apply an entry it already appended.
func (adapter *leaderServerAdapterImpl) documentOperation(req *common.Message) (ops.Operation, error) {
	tid := ops.TransactionID(req.TID)
	if err := adapter.checkRunning(tid); err != nil {
		return nil, err
	}
	shard := ops.ShardID(req.Shard)
	shards, err := adapter.leader.GetShardMap()
	if err != nil {
		return nil, err
	}
	if _, ok := shards[shard]; !ok {
		return nil, document.Errorf(document.RetCShardNotFound, "shard %s not found", shard)
	}

	var op ops.Operation
	if req.MsgType == common.MsgTDocTruncate {
		op = ops.Truncate{TID: tid, Shard: shard}
	} else {
		docs, err := splitDocuments(req.Value)
		if err != nil {
			return nil, err
		}
		switch req.MsgType {
		case common.MsgTDocInsert:
			op = ops.Insert{TID: tid, Shard: shard, Payload: docs}
		case common.MsgTDocUpdate:
			op = ops.Update{TID: tid, Shard: shard, Payload: docs}
		case common.MsgTDocReplace:
			op = ops.Replace{TID: tid, Shard: shard, Payload: docs}
		default:
			op = ops.Remove{TID: tid, Shard: shard, Payload: docs}
		}
	}

	if bound, loaded := adapter.shards.LoadOrStore(tid, shard); loaded && bound != shard {
		return nil, document.Errorf(document.RetCInvalidOperation, "transaction %d works on shard %s", tid, bound)
	}
	return op, nil
}

// splitDocuments splits a json array of documents. Every document must be an
// object with a non-empty string _key.
func splitDocuments(value []byte) ([][]byte, error) {
	var (
		docs    [][]byte
		invalid error
	)
	_, err := jsonparser.ArrayEach(value, func(doc []byte, dataType jsonparser.ValueType, _ int, err error) {
		if invalid != nil {
			return
		}
		if err != nil || dataType != jsonparser.Object {
			invalid = fmt.Errorf("document %d is not an object", len(docs))
			return
		}
		if key, err := jsonparser.GetString(doc, "_key"); err != nil || key == "" {
			invalid = fmt.Errorf("document %d has no _key", len(docs))
			return
		}
		if err := jsonparser.ObjectEach(doc, func(_, _ []byte, _ jsonparser.ValueType, _ int) error { return nil }); err != nil {
			invalid = fmt.Errorf("document %d: %v", len(docs), err)
			return
		}
		// the value buffer of the request is reused
		docs = append(docs, bytes.Clone(doc))
	})
	if err == nil {
		err = invalid
	}
	if err == nil && len(docs) == 0 {
		err = fmt.Errorf("no documents")
	}
	if err != nil {
		return nil, document.Errorf(document.RetCInvalidDocument, "invalid documents: %v", err)
	}
	return docs, nil
}
