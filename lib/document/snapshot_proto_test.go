package document

import (
	"encoding/json"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shardPtr(s ops.ShardID) *ops.ShardID { return &s }

func TestSnapshotBatchRoundTrip(t *testing.T) {
	batches := []SnapshotBatch{
		{ID: "terminal"},
		{ID: NewSnapshotID(), Shard: shardPtr("s1"), HasMore: true, Operations: []ops.Operation{
			ops.CreateShard{Shard: "s1", Collection: "users", Properties: []byte(`{}`)},
		}},
		{ID: NewSnapshotID(), Shard: shardPtr("s1"), HasMore: true, Operations: []ops.Operation{
			ops.Insert{TID: 6, Shard: "s1", Payload: [][]byte{[]byte(`{"_key":"a"}`), []byte(`{"_key":"b"}`)}},
			ops.Commit{TID: 6},
		}},
		{ID: "all", HasMore: false, Operations: []ops.Operation{
			ops.AbortAllOngoingTrx{},
			ops.Truncate{TID: 10, Shard: "s2"},
			ops.Update{TID: 10, Shard: "s2", Payload: [][]byte{[]byte(`{"_key":"x"}`)}},
			ops.Replace{TID: 10, Shard: "s2", Payload: [][]byte{[]byte(`{"_key":"x"}`)}},
			ops.Remove{TID: 10, Shard: "s2", Payload: [][]byte{[]byte(`{"_key":"x"}`)}},
			ops.IntermediateCommit{TID: 10},
			ops.Abort{TID: 10},
			ops.ModifyShard{Shard: "s2", Collection: "c"},
			ops.DropShard{Shard: "s2", Collection: "c"},
		}},
	}

	for _, batch := range batches {
		data, err := batch.MarshalBinary()
		require.NoError(t, err)

		var decoded SnapshotBatch
		require.NoError(t, decoded.UnmarshalBinary(data))
		if diff := cmp.Diff(batch, decoded); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestSnapshotConfigRoundTrip(t *testing.T) {
	config := SnapshotConfig{
		ID: NewSnapshotID(),
		Shards: ops.ShardMap{
			"s1": {Collection: "users", Properties: []byte(`{"a":1}`)},
			"s2": {Collection: "orders"},
		},
	}

	data, err := config.MarshalBinary()
	require.NoError(t, err)

	var decoded SnapshotConfig
	require.NoError(t, decoded.UnmarshalBinary(data))
	if diff := cmp.Diff(config, decoded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotBatchTruncated(t *testing.T) {
	batch := SnapshotBatch{ID: "x", Shard: shardPtr("s1"), Operations: []ops.Operation{ops.Commit{TID: 6}}}
	data, err := batch.MarshalBinary()
	require.NoError(t, err)

	var decoded SnapshotBatch
	assert.Error(t, decoded.UnmarshalBinary(data[:len(data)-2]))
}

func TestSnapshotStateJSON(t *testing.T) {
	status := AllSnapshotsStatus{Snapshots: map[SnapshotID]SnapshotStatus{
		"a": {State: SnapshotAborted},
		"b": {State: SnapshotOngoing},
	}}

	data, err := json.Marshal(status)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"aborted"`)

	var decoded AllSnapshotsStatus
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, SnapshotAborted, decoded.Snapshots["a"].State)
	assert.Equal(t, SnapshotOngoing, decoded.Snapshots["b"].State)
}

func TestErrorCodes(t *testing.T) {
	err := Errorf(RetCResigned, "leader of group %d resigned", 7)
	assert.ErrorIs(t, err, ErrResigned)
	assert.NotErrorIs(t, err, ErrSnapshotNotFound)
	assert.Equal(t, RetCResigned, CodeOf(err))
	assert.Equal(t, RetCSuccess, CodeOf(nil))

	assert.True(t, IsBenign(RetCUniqueConstraintViolated))
	assert.True(t, IsBenign(RetCDocumentNotFound))
	assert.False(t, IsBenign(RetCInvalidOperation))
	assert.True(t, IsFatal(NewError(RetCFatalApply, "x")))
}
