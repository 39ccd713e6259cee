package internal

import (
	"testing"

	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/google/go-cmp/cmp"
)

func TestSnapshotRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		entries []ops.LogEntry
		last    ops.LogIndex
	}{
		{name: "Empty", last: 0},
		{name: "AllReleased", last: 17},
		{
			name: "Entries",
			entries: []ops.LogEntry{
				{Index: 4, Op: ops.Insert{TID: 5, Shard: "s1", Payload: [][]byte{[]byte(`{"_key":"a"}`)}}},
				{Index: 5, Op: ops.CreateShard{Shard: "s2", Collection: "c", Properties: []byte("p")}},
				{Index: 6, Op: ops.Commit{TID: 5}},
			},
			last: 6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, last, err := DecodeSnapshot(EncodeSnapshot(tt.entries, tt.last))
			if err != nil {
				t.Fatalf("DecodeSnapshot() error = %v", err)
			}
			if last != tt.last {
				t.Errorf("last = %d, want %d", last, tt.last)
			}
			if len(tt.entries) == 0 {
				if len(entries) != 0 {
					t.Errorf("expected no entries, got %d", len(entries))
				}
				return
			}
			if diff := cmp.Diff(tt.entries, entries); diff != "" {
				t.Errorf("entries mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeSnapshotErrors(t *testing.T) {
	valid := EncodeSnapshot([]ops.LogEntry{{Index: 1, Op: ops.AbortAllOngoingTrx{}}}, 1)

	if _, _, err := DecodeSnapshot(valid[:10]); err == nil {
		t.Errorf("expected error for truncated header")
	}
	if _, _, err := DecodeSnapshot(append([]byte("XXXXXXXX"), valid[8:]...)); err == nil {
		t.Errorf("expected error for wrong magic")
	}

	inconsistent := EncodeSnapshot([]ops.LogEntry{{Index: 1, Op: ops.AbortAllOngoingTrx{}}}, 3)
	if _, _, err := DecodeSnapshot(inconsistent); err == nil {
		t.Errorf("expected error for entries not ending at the last index")
	}
}
