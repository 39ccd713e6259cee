package internal

import (
	"fmt"

	"github.com/buger/jsonparser"
	"github.com/google/btree"
)

// degree of the per shard B-trees
const treeDegree = 32

// Document is a stored document, ordered by its key
type Document struct {
	Key  string
	Body []byte
}

func lessDocument(a, b Document) bool {
	return a.Key < b.Key
}

// Tree is the ordered document set of one shard
type Tree = btree.BTreeG[Document]

// NewTree creates an empty document tree
func NewTree() *Tree {
	return btree.NewG[Document](treeDegree, lessDocument)
}

// ExtractKey returns the value of the "_key" attribute of a JSON document
func ExtractKey(body []byte) (string, error) {
	key, err := jsonparser.GetString(body, "_key")
	if err != nil {
		return "", fmt.Errorf("document has no _key attribute: %w", err)
	}
	if key == "" {
		return "", fmt.Errorf("document has an empty _key attribute")
	}
	return key, nil
}

// MergeDocument applies a shallow merge: every top level attribute of patch
// overwrites (or is added to) the attributes of old.
func MergeDocument(old, patch []byte) ([]byte, error) {
	merged := make([]byte, len(old))
	copy(merged, old)

	err := jsonparser.ObjectEach(patch, func(key []byte, value []byte, dataType jsonparser.ValueType, _ int) error {
		raw := value
		if dataType == jsonparser.String {
			raw = make([]byte, 0, len(value)+2)
			raw = append(raw, '"')
			raw = append(raw, value...)
			raw = append(raw, '"')
		}

		var err error
		merged, err = jsonparser.Set(merged, raw, string(key))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to merge document: %w", err)
	}
	return merged, nil
}
