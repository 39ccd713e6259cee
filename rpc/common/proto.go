package common

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	SnapshotID string `json:"snapshotId,omitempty"` // Used for: SnapshotNext, SnapshotFinish, SnapshotStatus
	ServerID   string `json:"serverId,omitempty"`   // Used for: SnapshotStart
	RebootID   uint64 `json:"rebootId,omitempty"`   // Used for: SnapshotStart
	Shard      string `json:"shard,omitempty"`      // Used for: ShardCreate, ShardModify, ShardDrop, document operations
	Collection string `json:"collection,omitempty"` // Used for: ShardCreate, ShardModify, ShardDrop
	Value      []byte `json:"value,omitempty"`      // Used for: shard properties, documents (request), encoded result (response)
	TID        uint64 `json:"tid,omitempty"`        // Used for: document and transaction operations
	Index      uint64 `json:"index,omitempty"`      // Log index of a replicated operation (response)

	// Response only fields
	Code uint64 `json:"code,omitempty"` // RetCode of the error, 0 if no error
	Err  string `json:"err,omitempty"`  // Empty if no error, otherwise contains the error message
}

// Error restores the error carried by a response, nil if there is none
func (m *Message) Error() error {
	if m.Err == "" && m.Code == 0 {
		return nil
	}
	code := document.RetCode(m.Code)
	if code == document.RetCSuccess {
		code = document.RetCInternalError
	}
	return document.NewError(code, m.Err)
}

// withError sets the error fields of a response
func (m *Message) withError(err error) *Message {
	if err != nil {
		m.Code = uint64(document.CodeOf(err))
		m.Err = err.Error()

		// the code travels separately
		var docErr *document.Error
		if errors.As(err, &docErr) && errors.Unwrap(err) == nil {
			m.Err = docErr.Msg
		}
	}
	return m
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewSnapshotStartRequest creates a new SnapshotStart request for the follower peer
func NewSnapshotStartRequest(peer document.PeerState) *Message {
	return &Message{
		MsgType:  MsgTSnapshotStart,
		ServerID: peer.ServerID,
		RebootID: peer.RebootID,
	}
}

// NewSnapshotStartResponse creates a new SnapshotStart response
func NewSnapshotStartResponse(config document.SnapshotConfig, err error) *Message {
	msg := &Message{MsgType: MsgTSnapshotStart}
	if err == nil {
		msg.Value, err = config.MarshalBinary()
	}
	return msg.withError(err)
}

// NewSnapshotNextRequest creates a new SnapshotNext request
func NewSnapshotNextRequest(id document.SnapshotID) *Message {
	return &Message{
		MsgType:    MsgTSnapshotNext,
		SnapshotID: string(id),
	}
}

// NewSnapshotNextResponse creates a new SnapshotNext response
func NewSnapshotNextResponse(batch document.SnapshotBatch, err error) *Message {
	msg := &Message{MsgType: MsgTSnapshotNext}
	if err == nil {
		msg.Value, err = batch.MarshalBinary()
	}
	return msg.withError(err)
}

// NewSnapshotFinishRequest creates a new SnapshotFinish request
func NewSnapshotFinishRequest(id document.SnapshotID) *Message {
	return &Message{
		MsgType:    MsgTSnapshotFinish,
		SnapshotID: string(id),
	}
}

// NewSnapshotFinishResponse creates a new SnapshotFinish response
func NewSnapshotFinishResponse(err error) *Message {
	return (&Message{MsgType: MsgTSnapshotFinish}).withError(err)
}

// NewSnapshotStatusRequest creates a new SnapshotStatus request.
// An empty id requests the status of all snapshots.
func NewSnapshotStatusRequest(id document.SnapshotID) *Message {
	return &Message{
		MsgType:    MsgTSnapshotStatus,
		SnapshotID: string(id),
	}
}

// NewSnapshotStatusResponse creates a new SnapshotStatus response.
// status is a document.SnapshotStatus or a document.AllSnapshotsStatus.
func NewSnapshotStatusResponse(status any, err error) *Message {
	msg := &Message{MsgType: MsgTSnapshotStatus}
	if err == nil {
		msg.Value, err = json.Marshal(status)
	}
	return msg.withError(err)
}

// NewShardCreateRequest creates a new ShardCreate request
func NewShardCreateRequest(shard, collection string, properties []byte) *Message {
	return &Message{
		MsgType:    MsgTShardCreate,
		Shard:      shard,
		Collection: collection,
		Value:      properties,
	}
}

// NewShardModifyRequest creates a new ShardModify request
func NewShardModifyRequest(shard, collection string, properties []byte) *Message {
	return &Message{
		MsgType:    MsgTShardModify,
		Shard:      shard,
		Collection: collection,
		Value:      properties,
	}
}

// NewShardDropRequest creates a new ShardDrop request
func NewShardDropRequest(shard, collection string) *Message {
	return &Message{
		MsgType:    MsgTShardDrop,
		Shard:      shard,
		Collection: collection,
	}
}

// NewShardResponse creates a response to ShardCreate, ShardModify or ShardDrop
func NewShardResponse(msgType MessageType, err error) *Message {
	return (&Message{MsgType: msgType}).withError(err)
}

// NewShardMapRequest creates a new ShardMap request
func NewShardMapRequest() *Message {
	return &Message{MsgType: MsgTShardMap}
}

// NewShardMapResponse creates a new ShardMap response
func NewShardMapResponse(shards any, err error) *Message {
	msg := &Message{MsgType: MsgTShardMap}
	if err == nil {
		msg.Value, err = json.Marshal(shards)
	}
	return msg.withError(err)
}

// NewTrxBeginRequest creates a new TrxBegin request
func NewTrxBeginRequest() *Message {
	return &Message{MsgType: MsgTTrxBegin}
}

// NewTrxBeginResponse creates a new TrxBegin response carrying the id of the new transaction
func NewTrxBeginResponse(tid ops.TransactionID, err error) *Message {
	return (&Message{MsgType: MsgTTrxBegin, TID: uint64(tid)}).withError(err)
}

// NewDocumentRequest creates a request for the document operation msgType
// (DocInsert, DocUpdate, DocReplace, DocRemove). docs is a json array of documents,
// for DocRemove documents that only carry their _key.
func NewDocumentRequest(msgType MessageType, tid ops.TransactionID, shard string, docs []byte) *Message {
	return &Message{
		MsgType: msgType,
		TID:     uint64(tid),
		Shard:   shard,
		Value:   docs,
	}
}

// NewDocTruncateRequest creates a new DocTruncate request
func NewDocTruncateRequest(tid ops.TransactionID, shard string) *Message {
	return &Message{
		MsgType: MsgTDocTruncate,
		TID:     uint64(tid),
		Shard:   shard,
	}
}

// NewTrxRequest creates a request to end a transaction (TrxIntermediateCommit, TrxCommit, TrxAbort)
func NewTrxRequest(msgType MessageType, tid ops.TransactionID) *Message {
	return &Message{MsgType: msgType, TID: uint64(tid)}
}

// NewReplicatedResponse creates the response to a document or transaction operation
// with the log index the operation was replicated at
func NewReplicatedResponse(msgType MessageType, idx ops.LogIndex, err error) *Message {
	return (&Message{MsgType: msgType, Index: uint64(idx)}).withError(err)
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(code document.RetCode, err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Code:    uint64(code),
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var messageTypeNames = map[MessageType]string{
	MsgTSuccess:        "success",
	MsgTError:          "error",
	MsgTSnapshotStart:  "snapshotStart",
	MsgTSnapshotNext:   "snapshotNext",
	MsgTSnapshotFinish: "snapshotFinish",
	MsgTSnapshotStatus: "snapshotStatus",
	MsgTShardCreate:    "shardCreate",
	MsgTShardModify:    "shardModify",
	MsgTShardDrop:      "shardDrop",
	MsgTShardMap:       "shardMap",

	MsgTTrxBegin:              "trxBegin",
	MsgTDocInsert:             "docInsert",
	MsgTDocUpdate:             "docUpdate",
	MsgTDocReplace:            "docReplace",
	MsgTDocRemove:             "docRemove",
	MsgTDocTruncate:           "docTruncate",
	MsgTTrxIntermediateCommit: "trxIntermediateCommit",
	MsgTTrxCommit:             "trxCommit",
	MsgTTrxAbort:              "trxAbort",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for msgType, name := range messageTypeNames {
		if name == s {
			*t = msgType
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Snapshot transfer (ILeaderInterface)

	MsgTSnapshotStart  // Open a snapshot for a follower
	MsgTSnapshotNext   // Fetch the next batch of a snapshot
	MsgTSnapshotFinish // Release a transferred snapshot
	MsgTSnapshotStatus // Status of one or all snapshots

	// Shard topology

	MsgTShardCreate // Create a shard
	MsgTShardModify // Modify the properties of a shard
	MsgTShardDrop   // Drop a shard
	MsgTShardMap    // List the shards of a group

	// Documents and transactions

	MsgTTrxBegin              // Open a transaction on the leader
	MsgTDocInsert             // Insert documents
	MsgTDocUpdate             // Merge documents into the stored ones
	MsgTDocReplace            // Replace stored documents
	MsgTDocRemove             // Remove documents by key
	MsgTDocTruncate           // Remove all documents of a shard
	MsgTTrxIntermediateCommit // Persist the changes of a transaction so far
	MsgTTrxCommit             // Commit a transaction
	MsgTTrxAbort              // Abort a transaction
)
