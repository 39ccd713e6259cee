package client

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
)

// NewRPCDocuments creates a client for the document operations of group groupID
func NewRPCDocuments(
	groupID uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*RPCDocuments, error) {
	adapter, err := connect(groupID, config, transport, serializer)
	if err != nil {
		return nil, err
	}
	return &RPCDocuments{rpcClientAdapter: adapter}, nil
}

// RPCDocuments replicates document operations through the leader of a group.
//
// Every operation belongs to a transaction opened with Begin. A transaction works
// on a single shard and ends with Commit or Abort. The leader may abort a
// transaction on its own (resign, dropped shard), later operations of it fail.
// All methods return the log index the operation was replicated at.
type RPCDocuments struct {
	rpcClientAdapter
}

// Begin opens a transaction on the leader
func (d *RPCDocuments) Begin(ctx context.Context) (ops.TransactionID, error) {
	resp, err := d.invoke(ctx, common.NewTrxBeginRequest())
	if err != nil {
		return 0, err
	}
	return ops.TransactionID(resp.TID), nil
}

// Insert adds docs to shard. Every document needs a _key.
func (d *RPCDocuments) Insert(ctx context.Context, tid ops.TransactionID, shard ops.ShardID, docs ...[]byte) (ops.LogIndex, error) {
	return d.documents(ctx, common.MsgTDocInsert, tid, shard, docs)
}

// Update merges docs into the stored documents with the same _key
func (d *RPCDocuments) Update(ctx context.Context, tid ops.TransactionID, shard ops.ShardID, docs ...[]byte) (ops.LogIndex, error) {
	return d.documents(ctx, common.MsgTDocUpdate, tid, shard, docs)
}

// Replace overwrites the stored documents with the same _key
func (d *RPCDocuments) Replace(ctx context.Context, tid ops.TransactionID, shard ops.ShardID, docs ...[]byte) (ops.LogIndex, error) {
	return d.documents(ctx, common.MsgTDocReplace, tid, shard, docs)
}

// Remove deletes the documents with the given keys
func (d *RPCDocuments) Remove(ctx context.Context, tid ops.TransactionID, shard ops.ShardID, keys ...string) (ops.LogIndex, error) {
	docs := make([][]byte, 0, len(keys))
	for _, key := range keys {
		doc, err := json.Marshal(map[string]string{"_key": key})
		if err != nil {
			return 0, err
		}
		docs = append(docs, doc)
	}
	return d.documents(ctx, common.MsgTDocRemove, tid, shard, docs)
}

// Truncate removes all documents of shard
func (d *RPCDocuments) Truncate(ctx context.Context, tid ops.TransactionID, shard ops.ShardID) (ops.LogIndex, error) {
	return d.replicated(ctx, common.NewDocTruncateRequest(tid, string(shard)))
}

// IntermediateCommit persists the changes of tid so far, the transaction stays open
func (d *RPCDocuments) IntermediateCommit(ctx context.Context, tid ops.TransactionID) (ops.LogIndex, error) {
	return d.replicated(ctx, common.NewTrxRequest(common.MsgTTrxIntermediateCommit, tid))
}

// Commit commits tid and returns once the commit is replicated.
// The index is 0 if the transaction had no operations.
func (d *RPCDocuments) Commit(ctx context.Context, tid ops.TransactionID) (ops.LogIndex, error) {
	return d.replicated(ctx, common.NewTrxRequest(common.MsgTTrxCommit, tid))
}

// Abort discards all changes of tid. Aborting a transaction the leader already
// aborted succeeds.
func (d *RPCDocuments) Abort(ctx context.Context, tid ops.TransactionID) (ops.LogIndex, error) {
	return d.replicated(ctx, common.NewTrxRequest(common.MsgTTrxAbort, tid))
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (d *RPCDocuments) documents(ctx context.Context, msgType common.MessageType, tid ops.TransactionID,
	shard ops.ShardID, docs [][]byte) (ops.LogIndex, error) {
	if len(docs) == 0 {
		return 0, document.NewError(document.RetCInvalidDocument, "no documents")
	}
	value := append([]byte{'['}, bytes.Join(docs, []byte{','})...)
	value = append(value, ']')
	return d.replicated(ctx, common.NewDocumentRequest(msgType, tid, string(shard), value))
}

func (d *RPCDocuments) replicated(ctx context.Context, req *common.Message) (ops.LogIndex, error) {
	resp, err := d.invoke(ctx, req)
	if err != nil {
		return 0, err
	}
	return ops.LogIndex(resp.Index), nil
}
