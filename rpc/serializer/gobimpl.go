package serializer

import (
	"bytes"
	"encoding/gob"
	"sync"

	"github.com/ValentinKolb/dDoc/rpc/common"
)

// NewGOBSerializer creates a new serializer using Go's binary gob format.
// Every message is encoded with a fresh encoder, so each frame carries its own type information.
func NewGOBSerializer() IRPCSerializer {
	return &gobSerializerImpl{
		buffers: sync.Pool{New: func() any { return new(bytes.Buffer) }},
	}
}

type gobSerializerImpl struct {
	buffers sync.Pool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (g *gobSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	buf := g.buffers.Get().(*bytes.Buffer)
	buf.Reset()
	defer g.buffers.Put(buf)

	if err := gob.NewEncoder(buf).Encode(&msg); err != nil {
		return nil, err
	}

	// the buffer is reused, the caller gets a copy
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func (g *gobSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	if len(b) == 0 {
		return errEmptyMessage
	}
	*msg = common.Message{}
	return gob.NewDecoder(bytes.NewReader(b)).Decode(msg)
}
