package internal

import (
	"testing"

	"github.com/buger/jsonparser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractKey(t *testing.T) {
	key, err := ExtractKey([]byte(`{"_key":"abc","v":1}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", key)

	_, err = ExtractKey([]byte(`{"v":1}`))
	assert.Error(t, err)
	_, err = ExtractKey([]byte(`{"_key":""}`))
	assert.Error(t, err)
	_, err = ExtractKey([]byte(`not json`))
	assert.Error(t, err)
}

func TestMergeDocument(t *testing.T) {
	merged, err := MergeDocument(
		[]byte(`{"_key":"a","name":"old","count":1}`),
		[]byte(`{"_key":"a","name":"new","tags":["x"],"nested":{"b":true}}`),
	)
	require.NoError(t, err)

	name, err := jsonparser.GetString(merged, "name")
	require.NoError(t, err)
	assert.Equal(t, "new", name)

	count, err := jsonparser.GetInt(merged, "count")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	nested, err := jsonparser.GetBoolean(merged, "nested", "b")
	require.NoError(t, err)
	assert.True(t, nested)

	tag, err := jsonparser.GetString(merged, "tags", "[0]")
	require.NoError(t, err)
	assert.Equal(t, "x", tag)
}

func TestTreeOrder(t *testing.T) {
	tree := NewTree()
	for _, k := range []string{"c", "a", "b"} {
		tree.ReplaceOrInsert(Document{Key: k})
	}

	var keys []string
	tree.Ascend(func(d Document) bool {
		keys = append(keys, d.Key)
		return true
	})
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}
