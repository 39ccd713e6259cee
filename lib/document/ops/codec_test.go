package ops

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// allOperations returns one instance of every operation kind
func allOperations() []Operation {
	return []Operation{
		AbortAllOngoingTrx{},
		Commit{TID: 5},
		IntermediateCommit{TID: 9},
		Abort{TID: 13},
		Truncate{TID: 17, Shard: "s1"},
		CreateShard{Shard: "s1", Collection: "users", Properties: []byte(`{"waitForSync":true}`)},
		CreateShard{Shard: "s2", Collection: "orders"},
		ModifyShard{Shard: "s1", Collection: "users", Properties: []byte(`{"waitForSync":false}`)},
		DropShard{Shard: "s1", Collection: "users"},
		Insert{TID: 5, Shard: "s1", Payload: [][]byte{[]byte(`{"_key":"a"}`), []byte(`{"_key":"b"}`)}},
		Update{TID: 5, Shard: "s1", Payload: [][]byte{[]byte(`{"_key":"a","x":1}`)}},
		Replace{TID: 6, Shard: "s2", Payload: [][]byte{[]byte(`{"_key":"c"}`)}},
		Remove{TID: 10, Shard: "s2", Payload: [][]byte{[]byte(`{"_key":"c"}`)}},
		Insert{TID: 21, Shard: "s3"},
	}
}

// TestSizeBytes tests that SizeBytes matches the length of the encoding
func TestSizeBytes(t *testing.T) {
	for _, op := range allOperations() {
		t.Run(op.Kind().String(), func(t *testing.T) {
			if got, want := SizeBytes(op), len(Serialize(op)); got != want {
				t.Errorf("SizeBytes() = %d, want %d", got, want)
			}
		})
	}
}

// TestSerializeDeserialize tests the round trip of every operation kind
func TestSerializeDeserialize(t *testing.T) {
	for _, op := range allOperations() {
		t.Run(op.Kind().String(), func(t *testing.T) {
			decoded, err := Deserialize(Serialize(op))
			if err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}
			if diff := cmp.Diff(op, decoded); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestSerializeList tests the round trip of operation lists
func TestSerializeList(t *testing.T) {
	tests := []struct {
		name string
		list []Operation
	}{
		{name: "empty", list: nil},
		{name: "single", list: []Operation{Commit{TID: 42}}},
		{name: "all kinds", list: allOperations()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := DeserializeList(SerializeList(tt.list))
			if err != nil {
				t.Fatalf("DeserializeList() error = %v", err)
			}
			if diff := cmp.Diff(tt.list, decoded); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestDeserializeErrors tests the handling of malformed data
func TestDeserializeErrors(t *testing.T) {
	insert := Serialize(Insert{TID: 5, Shard: "s1", Payload: [][]byte{[]byte(`{"_key":"a"}`)}})

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: []byte{}},
		{name: "unknown kind", data: []byte{0xff}},
		{name: "missing transaction id", data: []byte{byte(KindCommit), 0, 0}},
		{name: "truncated document", data: insert[:len(insert)-3]},
		{name: "trailing bytes", data: append(Serialize(Commit{TID: 1}), 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Deserialize(tt.data); err == nil {
				t.Errorf("Deserialize() expected error for %v", tt.data)
			}
		})
	}
}

func TestDeserializeListWithHugeCount(t *testing.T) {
	// claims 2^32-1 operations but carries a single one
	data := []byte{0xff, 0xff, 0xff, 0xff}
	commit := Serialize(Commit{TID: 1})
	data = binary.BigEndian.AppendUint32(data, uint32(len(commit)))
	data = append(data, commit...)

	if _, err := DeserializeList(data); err == nil {
		t.Errorf("DeserializeList() expected error for a count larger than the data")
	}
}
