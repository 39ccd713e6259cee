package document

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Snapshot Identity and State
// --------------------------------------------------------------------------

// SnapshotID correlates the requests of one snapshot transfer
type SnapshotID string

// NewSnapshotID generates a new unique snapshot id
func NewSnapshotID() SnapshotID {
	return SnapshotID(uuid.NewString())
}

// SnapshotState is the lifecycle state of a snapshot.
// Finished and Aborted are terminal.
type SnapshotState uint8

const (
	SnapshotOngoing SnapshotState = iota
	SnapshotFinished
	SnapshotAborted
)

func (s SnapshotState) String() string {
	switch s {
	case SnapshotOngoing:
		return "ongoing"
	case SnapshotFinished:
		return "finished"
	case SnapshotAborted:
		return "aborted"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// MarshalJSON converts the SnapshotState to its string form
func (s SnapshotState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses the string form of a SnapshotState
func (s *SnapshotState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch strings.ToLower(str) {
	case "ongoing":
		*s = SnapshotOngoing
	case "finished":
		*s = SnapshotFinished
	case "aborted":
		*s = SnapshotAborted
	default:
		return fmt.Errorf("unknown snapshot state: %s", str)
	}
	return nil
}

// --------------------------------------------------------------------------
// Snapshot Requests
// --------------------------------------------------------------------------

// SnapshotParamsKind selects the snapshot request
type SnapshotParamsKind uint8

const (
	SnapshotParamsStart SnapshotParamsKind = iota + 1
	SnapshotParamsNext
	SnapshotParamsFinish
	SnapshotParamsStatus
)

// SnapshotParams is a snapshot request of a follower.
// Start uses Peer, Next and Finish use ID, Status uses ID if set (empty means all).
type SnapshotParams struct {
	Kind SnapshotParamsKind
	Peer PeerState
	ID   SnapshotID
}

func StartParams(peer PeerState) SnapshotParams {
	return SnapshotParams{Kind: SnapshotParamsStart, Peer: peer}
}

func NextParams(id SnapshotID) SnapshotParams {
	return SnapshotParams{Kind: SnapshotParamsNext, ID: id}
}

func FinishParams(id SnapshotID) SnapshotParams {
	return SnapshotParams{Kind: SnapshotParamsFinish, ID: id}
}

func StatusParams(id SnapshotID) SnapshotParams {
	return SnapshotParams{Kind: SnapshotParamsStatus, ID: id}
}

// --------------------------------------------------------------------------
// Snapshot Responses
// --------------------------------------------------------------------------

// SnapshotConfig is the leader's reply to a start request
type SnapshotConfig struct {
	ID     SnapshotID
	Shards ops.ShardMap
}

// SnapshotBatch is one page of a snapshot transfer.
// Shard is set if the batch belongs to a single shard.
type SnapshotBatch struct {
	ID         SnapshotID
	Shard      *ops.ShardID
	HasMore    bool
	Operations []ops.Operation
}

// PayloadBytes returns the number of document bytes carried by the batch
func (b SnapshotBatch) PayloadBytes() int {
	n := 0
	for _, op := range b.Operations {
		for _, doc := range ops.PayloadOf(op) {
			n += len(doc)
		}
	}
	return n
}

// ShardStatistics describes the progress of one shard of a snapshot
type ShardStatistics struct {
	Docs          uint64  `json:"docs"`
	Bytes         uint64  `json:"bytes"`
	Batches       uint64  `json:"batches"`
	TotalDocs     *uint64 `json:"totalDocs,omitempty"`
	AvgDocSize    int     `json:"avgDocSize"`
	MedianDocSize int     `json:"medianDocSize"`
}

// SnapshotStatistics describes the progress of a snapshot
type SnapshotStatistics struct {
	Shards    map[ops.ShardID]ShardStatistics `json:"shards"`
	Docs      uint64                          `json:"docs"`
	Bytes     uint64                          `json:"bytes"`
	Batches   uint64                          `json:"batches"`
	StartedAt time.Time                       `json:"startedAt"`
}

// SnapshotStatus is the read-only view of a snapshot
type SnapshotStatus struct {
	State      SnapshotState      `json:"state"`
	Statistics SnapshotStatistics `json:"statistics"`
}

// AllSnapshotsStatus maps every known snapshot to its status
type AllSnapshotsStatus struct {
	Snapshots map[SnapshotID]SnapshotStatus `json:"snapshots"`
}

// --------------------------------------------------------------------------
// Binary Encoding
// --------------------------------------------------------------------------

const (
	batchHasShard byte = 1 << 0
	batchHasMore  byte = 1 << 1
)

// MarshalBinary encodes the config as
// id, shard count, and per shard: id, collection, properties
func (c SnapshotConfig) MarshalBinary() ([]byte, error) {
	buf := appendString(nil, string(c.ID))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(c.Shards)))
	for _, shard := range c.Shards.SortedShards() {
		props := c.Shards[shard]
		buf = appendString(buf, string(shard))
		buf = appendString(buf, string(props.Collection))
		buf = appendString(buf, string(props.Properties))
	}
	return buf, nil
}

// UnmarshalBinary decodes a config written by MarshalBinary
func (c *SnapshotConfig) UnmarshalBinary(data []byte) error {
	pos := 0
	id, err := readString(data, &pos)
	if err != nil {
		return err
	}
	if pos+4 > len(data) {
		return fmt.Errorf("data too short for shard count")
	}
	count := binary.BigEndian.Uint32(data[pos : pos+4])
	pos += 4

	// every shard entry holds three length prefixes
	shards := make(ops.ShardMap, min(int(count), (len(data)-pos)/12))
	for i := uint32(0); i < count; i++ {
		shard, err := readString(data, &pos)
		if err != nil {
			return err
		}
		collection, err := readString(data, &pos)
		if err != nil {
			return err
		}
		properties, err := readString(data, &pos)
		if err != nil {
			return err
		}
		props := ops.ShardProperties{Collection: ops.CollectionID(collection)}
		if properties != "" {
			props.Properties = []byte(properties)
		}
		shards[ops.ShardID(shard)] = props
	}

	c.ID = SnapshotID(id)
	c.Shards = shards
	return nil
}

// MarshalBinary encodes the batch as id, flags, optional shard and the operation list
func (b SnapshotBatch) MarshalBinary() ([]byte, error) {
	buf := appendString(nil, string(b.ID))

	var flags byte
	if b.Shard != nil {
		flags |= batchHasShard
	}
	if b.HasMore {
		flags |= batchHasMore
	}
	buf = append(buf, flags)

	if b.Shard != nil {
		buf = appendString(buf, string(*b.Shard))
	}
	return append(buf, ops.SerializeList(b.Operations)...), nil
}

// UnmarshalBinary decodes a batch written by MarshalBinary
func (b *SnapshotBatch) UnmarshalBinary(data []byte) error {
	pos := 0
	id, err := readString(data, &pos)
	if err != nil {
		return err
	}
	if pos+1 > len(data) {
		return fmt.Errorf("data too short for batch flags")
	}
	flags := data[pos]
	pos++

	var shard *ops.ShardID
	if flags&batchHasShard != 0 {
		s, err := readString(data, &pos)
		if err != nil {
			return err
		}
		shardID := ops.ShardID(s)
		shard = &shardID
	}

	list, n, err := ops.ReadOperationList(data[pos:])
	if err != nil {
		return err
	}
	if pos+n != len(data) {
		return fmt.Errorf("%d trailing bytes after snapshot batch", len(data)-pos-n)
	}

	b.ID = SnapshotID(id)
	b.Shard = shard
	b.HasMore = flags&batchHasMore != 0
	b.Operations = list
	return nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func readString(data []byte, pos *int) (string, error) {
	if *pos+4 > len(data) {
		return "", fmt.Errorf("data too short for length at offset %d", *pos)
	}
	n := int(binary.BigEndian.Uint32(data[*pos : *pos+4]))
	*pos += 4
	if *pos+n > len(data) {
		return "", fmt.Errorf("data too short for field of length %d", n)
	}
	s := string(data[*pos : *pos+n])
	*pos += n
	return s, nil
}
