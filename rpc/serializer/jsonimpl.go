package serializer

import (
	"encoding/json"

	"github.com/ValentinKolb/dDoc/rpc/common"
)

// NewJSONSerializer creates a serializer writing messages as json objects.
// Byte fields (document batches, shard properties) are base64 encoded.
func NewJSONSerializer() IRPCSerializer {
	return jsonSerializerImpl{}
}

type jsonSerializerImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (jsonSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	return json.Marshal(&msg)
}

func (jsonSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	if len(b) == 0 {
		return errEmptyMessage
	}
	*msg = common.Message{}
	return json.Unmarshal(b, msg)
}
