package ops

import (
	"encoding/binary"
	"fmt"
)

// --------------------------------------------------------------------------
// Binary Encoding
// --------------------------------------------------------------------------

/*
	Layout of a serialized operation (all integers big endian):

	1 byte            kind
	8 bytes           transaction id        (Commit, IntermediateCommit, Abort, Truncate, documents)
	4 bytes + N       shard id              (Truncate, shard and document operations)
	4 bytes + N       collection id         (shard operations)
	4 bytes + N       properties            (CreateShard, ModifyShard)
	4 bytes           document count        (document operations)
	  4 bytes + N     document, repeated
*/

// SizeBytes returns the exact number of bytes needed to serialize op
func SizeBytes(op Operation) int {
	switch o := op.(type) {
	case AbortAllOngoingTrx:
		return 1
	case Commit, IntermediateCommit, Abort:
		return 1 + 8
	case Truncate:
		return 1 + 8 + 4 + len(o.Shard)
	case CreateShard:
		return 1 + 4 + len(o.Shard) + 4 + len(o.Collection) + 4 + len(o.Properties)
	case ModifyShard:
		return 1 + 4 + len(o.Shard) + 4 + len(o.Collection) + 4 + len(o.Properties)
	case DropShard:
		return 1 + 4 + len(o.Shard) + 4 + len(o.Collection)
	case Insert, Update, Replace, Remove:
		shard, _ := ShardOf(op)
		size := 1 + 8 + 4 + len(shard) + 4
		for _, doc := range PayloadOf(op) {
			size += 4 + len(doc)
		}
		return size
	default:
		return 0
	}
}

// Serialize encodes op into its binary representation
func Serialize(op Operation) []byte {
	return AppendOperation(make([]byte, 0, SizeBytes(op)), op)
}

// AppendOperation appends the binary representation of op to buf
func AppendOperation(buf []byte, op Operation) []byte {
	buf = append(buf, byte(op.Kind()))

	switch o := op.(type) {
	case AbortAllOngoingTrx:
	case Commit:
		buf = binary.BigEndian.AppendUint64(buf, uint64(o.TID))
	case IntermediateCommit:
		buf = binary.BigEndian.AppendUint64(buf, uint64(o.TID))
	case Abort:
		buf = binary.BigEndian.AppendUint64(buf, uint64(o.TID))
	case Truncate:
		buf = binary.BigEndian.AppendUint64(buf, uint64(o.TID))
		buf = appendBytes(buf, []byte(o.Shard))
	case CreateShard:
		buf = appendBytes(buf, []byte(o.Shard))
		buf = appendBytes(buf, []byte(o.Collection))
		buf = appendBytes(buf, o.Properties)
	case ModifyShard:
		buf = appendBytes(buf, []byte(o.Shard))
		buf = appendBytes(buf, []byte(o.Collection))
		buf = appendBytes(buf, o.Properties)
	case DropShard:
		buf = appendBytes(buf, []byte(o.Shard))
		buf = appendBytes(buf, []byte(o.Collection))
	case Insert, Update, Replace, Remove:
		tid, _ := TransactionOf(op)
		shard, _ := ShardOf(op)
		payload := PayloadOf(op)
		buf = binary.BigEndian.AppendUint64(buf, uint64(tid))
		buf = appendBytes(buf, []byte(shard))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
		for _, doc := range payload {
			buf = appendBytes(buf, doc)
		}
	}
	return buf
}

// Deserialize decodes a single operation. The data must contain exactly one operation.
func Deserialize(data []byte) (Operation, error) {
	r := reader{data: data}
	op, err := r.operation()
	if err != nil {
		return nil, err
	}
	if r.pos != len(data) {
		return nil, fmt.Errorf("%d trailing bytes after %s operation", len(data)-r.pos, op.Kind())
	}
	return op, nil
}

// SerializeList encodes a list of operations, prefixed by their count
func SerializeList(list []Operation) []byte {
	size := 4
	for _, op := range list {
		size += 4 + SizeBytes(op)
	}
	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(list)))
	for _, op := range list {
		buf = binary.BigEndian.AppendUint32(buf, uint32(SizeBytes(op)))
		buf = AppendOperation(buf, op)
	}
	return buf
}

// DeserializeList decodes a list written by SerializeList.
// An empty list is returned as nil.
func DeserializeList(data []byte) ([]Operation, error) {
	r := reader{data: data}
	list, err := r.operationList()
	if err != nil {
		return nil, err
	}
	if r.pos != len(data) {
		return nil, fmt.Errorf("%d trailing bytes after operation list", len(data)-r.pos)
	}
	return list, nil
}

// ReadOperationList decodes an operation list at the start of data and returns
// the number of bytes consumed. It is used by encoders that embed operation lists.
func ReadOperationList(data []byte) ([]Operation, int, error) {
	r := reader{data: data}
	list, err := r.operationList()
	return list, r.pos, err
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func appendBytes(buf []byte, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// minEncodedOperation is the size of an operation list element: size prefix and type tag
const minEncodedOperation = 5

// reader is a cursor over encoded data
type reader struct {
	data []byte
	pos  int
}

func (r *reader) uint8() (uint8, error) {
	if r.pos+1 > len(r.data) {
		return 0, fmt.Errorf("data too short for type tag at offset %d", r.pos)
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) uint32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("data too short for length at offset %d", r.pos)
	}
	v := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *reader) uint64() (uint64, error) {
	if r.pos+8 > len(r.data) {
		return 0, fmt.Errorf("data too short for transaction id at offset %d", r.pos)
	}
	v := binary.BigEndian.Uint64(r.data[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

// bytes reads a length prefixed byte slice. Empty slices are returned as nil.
func (r *reader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.data) {
		return nil, fmt.Errorf("data too short for field of length %d", n)
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return b, nil
}

func (r *reader) string() (string, error) {
	b, err := r.bytes()
	return string(b), err
}

func (r *reader) tid() (TransactionID, error) {
	v, err := r.uint64()
	return TransactionID(v), err
}

func (r *reader) operationList() ([]Operation, error) {
	count, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	// an encoded operation takes at least minEncodedOperation bytes, a larger count is malformed
	list := make([]Operation, 0, min(int(count), (len(r.data)-r.pos)/minEncodedOperation))
	for i := uint32(0); i < count; i++ {
		size, err := r.uint32()
		if err != nil {
			return nil, err
		}
		start := r.pos
		op, err := r.operation()
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		if r.pos-start != int(size) {
			return nil, fmt.Errorf("operation %d: size mismatch (%d != %d)", i, r.pos-start, size)
		}
		list = append(list, op)
	}
	return list, nil
}

func (r *reader) operation() (Operation, error) {
	tag, err := r.uint8()
	if err != nil {
		return nil, err
	}

	switch kind := Kind(tag); kind {
	case KindAbortAllOngoingTrx:
		return AbortAllOngoingTrx{}, nil
	case KindCommit, KindIntermediateCommit, KindAbort:
		tid, err := r.tid()
		if err != nil {
			return nil, err
		}
		switch kind {
		case KindCommit:
			return Commit{TID: tid}, nil
		case KindIntermediateCommit:
			return IntermediateCommit{TID: tid}, nil
		default:
			return Abort{TID: tid}, nil
		}
	case KindTruncate:
		tid, err := r.tid()
		if err != nil {
			return nil, err
		}
		shard, err := r.string()
		if err != nil {
			return nil, err
		}
		return Truncate{TID: tid, Shard: ShardID(shard)}, nil
	case KindCreateShard, KindModifyShard, KindDropShard:
		shard, err := r.string()
		if err != nil {
			return nil, err
		}
		collection, err := r.string()
		if err != nil {
			return nil, err
		}
		if kind == KindDropShard {
			return DropShard{Shard: ShardID(shard), Collection: CollectionID(collection)}, nil
		}
		properties, err := r.bytes()
		if err != nil {
			return nil, err
		}
		if kind == KindCreateShard {
			return CreateShard{Shard: ShardID(shard), Collection: CollectionID(collection), Properties: properties}, nil
		}
		return ModifyShard{Shard: ShardID(shard), Collection: CollectionID(collection), Properties: properties}, nil
	case KindInsert, KindUpdate, KindReplace, KindRemove:
		tid, err := r.tid()
		if err != nil {
			return nil, err
		}
		shard, err := r.string()
		if err != nil {
			return nil, err
		}
		count, err := r.uint32()
		if err != nil {
			return nil, err
		}
		var payload [][]byte
		for i := uint32(0); i < count; i++ {
			doc, err := r.bytes()
			if err != nil {
				return nil, fmt.Errorf("document %d: %w", i, err)
			}
			payload = append(payload, doc)
		}
		switch kind {
		case KindInsert:
			return Insert{TID: tid, Shard: ShardID(shard), Payload: payload}, nil
		case KindUpdate:
			return Update{TID: tid, Shard: ShardID(shard), Payload: payload}, nil
		case KindReplace:
			return Replace{TID: tid, Shard: ShardID(shard), Payload: payload}, nil
		default:
			return Remove{TID: tid, Shard: ShardID(shard), Payload: payload}, nil
		}
	default:
		return nil, fmt.Errorf("unknown operation kind %s", kind)
	}
}
