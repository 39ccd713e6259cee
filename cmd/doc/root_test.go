package doc

import (
	"context"
	"errors"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndTransaction(t *testing.T) {
	var ended []ops.TransactionID
	end := func(_ context.Context, tid ops.TransactionID) (ops.LogIndex, error) {
		ended = append(ended, tid)
		if tid == 9 {
			return 0, errors.New("not running")
		}
		return 7, nil
	}

	require.NoError(t, endTransaction("5", "commit", end))
	assert.ErrorContains(t, endTransaction("9", "commit", end), "commit of transaction 9 failed")
	assert.ErrorContains(t, endTransaction("abc", "commit", end), "trx must be a number")
	assert.Equal(t, []ops.TransactionID{5, 9}, ended)
}

func TestDocuments(t *testing.T) {
	docs := documents([]string{`{"_key":"a"}`, `{"_key":"b"}`})
	assert.Equal(t, [][]byte{[]byte(`{"_key":"a"}`), []byte(`{"_key":"b"}`)}, docs)
}
