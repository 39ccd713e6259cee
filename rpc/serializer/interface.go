package serializer

import (
	"errors"

	"github.com/ValentinKolb/dDoc/rpc/common"
)

// errEmptyMessage is returned when an empty byte slice is deserialized
var errEmptyMessage = errors.New("cannot deserialize an empty message")

// IRPCSerializer is the interface for all Message Serializers
type IRPCSerializer interface {
	// Serialize serializes a Message into a byte array
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize deserializes a byte array into msg
	Deserialize(b []byte, msg *common.Message) error
}

// ByName returns the serializer registered under name (json, gob, binary)
func ByName(name string) (IRPCSerializer, bool) {
	switch name {
	case "json":
		return NewJSONSerializer(), true
	case "gob":
		return NewGOBSerializer(), true
	case "binary":
		return NewBinarySerializer(), true
	default:
		return nil, false
	}
}
