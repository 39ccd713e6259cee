package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dDoc/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasSnapshotID uint16 = 1 << iota
	hasServerID
	hasRebootID
	hasShard
	hasCollection
	hasValue
	hasCode
	hasErr
	hasTID
	hasIndex
)

// headerSize is 1 byte for MsgType + 2 bytes for flags
const headerSize = 3

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	result := make([]byte, headerSize, b.sizeBytes(msg))
	result[0] = byte(msg.MsgType)

	var flags uint16
	appendString := func(flag uint16, s string) {
		if s == "" {
			return
		}
		flags |= flag
		result = binary.BigEndian.AppendUint32(result, uint32(len(s)))
		result = append(result, s...)
	}
	appendBytes := func(flag uint16, data []byte) {
		if data == nil {
			return
		}
		flags |= flag
		result = binary.BigEndian.AppendUint32(result, uint32(len(data)))
		result = append(result, data...)
	}
	appendUint64 := func(flag uint16, v uint64) {
		if v == 0 {
			return
		}
		flags |= flag
		result = binary.BigEndian.AppendUint64(result, v)
	}

	// the order of the fields is the order of the flags
	appendString(hasSnapshotID, msg.SnapshotID)
	appendString(hasServerID, msg.ServerID)
	appendUint64(hasRebootID, msg.RebootID)
	appendString(hasShard, msg.Shard)
	appendString(hasCollection, msg.Collection)
	appendBytes(hasValue, msg.Value)
	appendUint64(hasCode, msg.Code)
	appendString(hasErr, msg.Err)
	appendUint64(hasTID, msg.TID)
	appendUint64(hasIndex, msg.Index)

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(result[1:3], flags)
	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	msg.MsgType = common.MessageType(data[0])
	flags := binary.BigEndian.Uint16(data[1:3])
	r := reader{data: data, pos: headerSize, flags: flags}

	msg.SnapshotID = r.string(hasSnapshotID, "snapshot id")
	msg.ServerID = r.string(hasServerID, "server id")
	msg.RebootID = r.uint64(hasRebootID, "reboot id")
	msg.Shard = r.string(hasShard, "shard")
	msg.Collection = r.string(hasCollection, "collection")
	msg.Value = r.bytes(hasValue, "value", msg.Value)
	msg.Code = r.uint64(hasCode, "code")
	msg.Err = r.string(hasErr, "error")
	msg.TID = r.uint64(hasTID, "tid")
	msg.Index = r.uint64(hasIndex, "index")

	return r.err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := headerSize

	for _, s := range []string{msg.SnapshotID, msg.ServerID, msg.Shard, msg.Collection, msg.Err} {
		if s != "" {
			size += 4 + len(s) // 4 bytes for length + string
		}
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value) // 4 bytes for length + bytes
	}
	for _, v := range []uint64{msg.RebootID, msg.Code, msg.TID, msg.Index} {
		if v != 0 {
			size += 8
		}
	}
	return size
}

// reader reads the optional fields of a message. After the first error all
// reads return zero values, the error is kept in err.
type reader struct {
	data  []byte
	pos   int
	flags uint16
	err   error
}

func (r *reader) present(flag uint16, n int, field string) bool {
	if r.err != nil || r.flags&flag == 0 {
		return false
	}
	if r.pos+n > len(r.data) {
		r.err = fmt.Errorf("data too short for %s", field)
		return false
	}
	return true
}

func (r *reader) length(flag uint16, field string) (int, bool) {
	if !r.present(flag, 4, field+" length") {
		return 0, false
	}
	n := int(binary.BigEndian.Uint32(r.data[r.pos : r.pos+4]))
	r.pos += 4
	if r.pos+n > len(r.data) {
		r.err = fmt.Errorf("data too short for %s data", field)
		return 0, false
	}
	return n, true
}

func (r *reader) uint64(flag uint16, field string) uint64 {
	if !r.present(flag, 8, field) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.pos : r.pos+8])
	r.pos += 8
	return v
}

func (r *reader) string(flag uint16, field string) string {
	n, ok := r.length(flag, field)
	if !ok {
		return ""
	}
	s := string(r.data[r.pos : r.pos+n])
	r.pos += n
	return s
}

// bytes reads a byte field into buf if it is large enough. A present field of
// length 0 is returned as an empty, non nil slice.
func (r *reader) bytes(flag uint16, field string, buf []byte) []byte {
	n, ok := r.length(flag, field)
	if !ok {
		return nil
	}
	if buf == nil || cap(buf) < n {
		buf = make([]byte, n)
	} else {
		buf = buf[:n]
	}
	copy(buf, r.data[r.pos:r.pos+n])
	r.pos += n
	return buf
}
