package internal

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/document/ops"
)

const snapshotMagic = "DDOCLOG\x00"

// EncodeSnapshot serializes the held entries of a stream. Entries must be contiguous.
//
// Layout (big endian):
//
//	8 bytes   magic
//	8 bytes   last appended index
//	8 bytes   index of the first entry
//	...       operation list (see ops.SerializeList)
func EncodeSnapshot(entries []ops.LogEntry, last ops.LogIndex) []byte {
	first := last + 1
	if len(entries) > 0 {
		first = entries[0].Index
	}

	list := make([]ops.Operation, len(entries))
	for i, e := range entries {
		list[i] = e.Op
	}

	buf := make([]byte, 0, len(snapshotMagic)+16)
	buf = append(buf, snapshotMagic...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(last))
	buf = binary.BigEndian.AppendUint64(buf, uint64(first))
	return append(buf, ops.SerializeList(list)...)
}

// DecodeSnapshot parses data written by EncodeSnapshot
func DecodeSnapshot(data []byte) ([]ops.LogEntry, ops.LogIndex, error) {
	header := len(snapshotMagic) + 16
	if len(data) < header || string(data[:len(snapshotMagic)]) != snapshotMagic {
		return nil, 0, fmt.Errorf("invalid stream snapshot header")
	}
	last := ops.LogIndex(binary.BigEndian.Uint64(data[len(snapshotMagic):]))
	first := ops.LogIndex(binary.BigEndian.Uint64(data[len(snapshotMagic)+8:]))

	list, err := ops.DeserializeList(data[header:])
	if err != nil {
		return nil, 0, fmt.Errorf("invalid stream snapshot: %w", err)
	}
	if first+ops.LogIndex(len(list)) != last+1 {
		return nil, 0, fmt.Errorf("invalid stream snapshot: %d entries from %d do not end at %d", len(list), first, last)
	}

	entries := make([]ops.LogEntry, len(list))
	for i, op := range list {
		entries[i] = ops.LogEntry{Index: first + ops.LogIndex(i), Op: op}
	}
	return entries, last, nil
}
