package testing

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/buger/jsonparser"
)

// RunEngineTests runs a comprehensive test suite for an Engine implementation.
func RunEngineTests(t *testing.T, name string, factory db.EngineFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("ShardLifecycle", func(t *testing.T) {
			testShardLifecycle(t, factory())
		})

		t.Run("InsertCommit", func(t *testing.T) {
			testInsertCommit(t, factory())
		})

		t.Run("Abort", func(t *testing.T) {
			testAbort(t, factory())
		})

		t.Run("IntermediateCommit", func(t *testing.T) {
			testIntermediateCommit(t, factory())
		})

		t.Run("DocumentErrors", func(t *testing.T) {
			testDocumentErrors(t, factory())
		})

		t.Run("UpdateReplaceRemove", func(t *testing.T) {
			testUpdateReplaceRemove(t, factory())
		})

		t.Run("Truncate", func(t *testing.T) {
			testTruncate(t, factory())
		})

		t.Run("SnapshotIsolation", func(t *testing.T) {
			testSnapshotIsolation(t, factory())
		})

		t.Run("ReaderSoftLimit", func(t *testing.T) {
			testReaderSoftLimit(t, factory())
		})

		t.Run("ConcurrentShards", func(t *testing.T) {
			testConcurrentShards(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Doc builds a JSON document with the given key and value attribute
func Doc(key string, value int) []byte {
	return []byte(fmt.Sprintf(`{"_key":"%s","value":%d}`, key, value))
}

// ReadShard reads all committed documents of a shard through a fresh read view
// and returns them by key.
func ReadShard(t testing.TB, engine document.IDatabaseSnapshotFactory, shard ops.ShardID) map[string][]byte {
	t.Helper()

	snap, err := engine.CreateSnapshot()
	if err != nil {
		t.Fatalf("CreateSnapshot failed: %v", err)
	}
	reader, err := snap.CreateCollectionReader(shard)
	if err != nil {
		t.Fatalf("CreateCollectionReader(%s) failed: %v", shard, err)
	}
	return readAll(t, reader)
}

func readAll(t testing.TB, reader document.ICollectionReader) map[string][]byte {
	t.Helper()

	result := make(map[string][]byte)
	for reader.HasMore() {
		reader.Read(func(doc []byte) {
			key, err := jsonparser.GetString(doc, "_key")
			if err != nil {
				t.Fatalf("read document without key: %s", doc)
			}
			result[key] = doc
		}, 1<<20)
	}
	return result
}

func mustTrx(t testing.TB, engine db.Engine, tid ops.TransactionID, shard ops.ShardID) document.ITransaction {
	t.Helper()

	trx, err := engine.CreateTransaction(tid, shard, document.AccessModeWrite)
	if err != nil {
		t.Fatalf("CreateTransaction(%d, %s) failed: %v", tid, shard, err)
	}
	return trx
}

func mustApply(t testing.TB, trx document.ITransaction, op ops.Operation) document.ApplyResult {
	t.Helper()

	res, err := trx.Apply(op)
	if err != nil {
		t.Fatalf("Apply(%s) failed: %v", op.Kind(), err)
	}
	return res
}

func mustCreateShard(t testing.TB, engine db.Engine, shard ops.ShardID) {
	t.Helper()

	if err := engine.EnsureShard(shard, "c", nil); err != nil {
		t.Fatalf("EnsureShard(%s) failed: %v", shard, err)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testShardLifecycle(t *testing.T, engine db.Engine) {
	if engine.IsShardAvailable("s1") {
		t.Errorf("Expected shard s1 to be unavailable in a new engine")
	}

	if err := engine.EnsureShard("s2", "c1", []byte("p1")); err != nil {
		t.Fatalf("EnsureShard failed: %v", err)
	}
	if err := engine.EnsureShard("s1", "c1", nil); err != nil {
		t.Fatalf("EnsureShard failed: %v", err)
	}
	// ensuring an existing shard is no error
	if err := engine.EnsureShard("s1", "c1", nil); err != nil {
		t.Fatalf("EnsureShard of existing shard failed: %v", err)
	}

	shards := engine.GetAvailableShards()
	if len(shards) != 2 || shards[0] != "s1" || shards[1] != "s2" {
		t.Errorf("Expected shards [s1 s2], got %v", shards)
	}

	if err := engine.ModifyShard("s2", "c1", []byte("p2")); err != nil {
		t.Fatalf("ModifyShard failed: %v", err)
	}
	if props := engine.GetShardMap()["s2"]; string(props.Properties) != "p2" || props.Collection != "c1" {
		t.Errorf("Expected modified properties p2, got %+v", props)
	}

	err := engine.ModifyShard("missing", "c1", nil)
	if document.CodeOf(err) != document.RetCShardNotFound {
		t.Errorf("Expected ShardNotFound for ModifyShard of unknown shard, got %v", err)
	}

	if err := engine.DropShard("s2"); err != nil {
		t.Fatalf("DropShard failed: %v", err)
	}
	if engine.IsShardAvailable("s2") {
		t.Errorf("Expected s2 to be dropped")
	}
	if err := engine.DropShard("s2"); err != nil {
		t.Errorf("Expected dropping an unknown shard to succeed, got %v", err)
	}

	if _, err := engine.CreateTransaction(5, "s2", document.AccessModeWrite); err == nil {
		t.Errorf("Expected CreateTransaction on dropped shard to fail")
	}

	if err := engine.DropAllShards(); err != nil {
		t.Fatalf("DropAllShards failed: %v", err)
	}
	if len(engine.GetShardMap()) != 0 {
		t.Errorf("Expected no shards after DropAllShards")
	}
}

func testInsertCommit(t *testing.T, engine db.Engine) {
	mustCreateShard(t, engine, "s1")

	trx := mustTrx(t, engine, 5, "s1")
	res := mustApply(t, trx, ops.Insert{TID: 5, Shard: "s1", Payload: [][]byte{Doc("a", 1), Doc("b", 2)}})
	if !res.Ok() {
		t.Fatalf("Expected insert to succeed, got %v", res.ErrorCodes)
	}

	if docs := ReadShard(t, engine, "s1"); len(docs) != 0 {
		t.Errorf("Expected uncommitted documents to be invisible, got %d", len(docs))
	}

	if err := trx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	docs := ReadShard(t, engine, "s1")
	if len(docs) != 2 {
		t.Fatalf("Expected 2 documents after commit, got %d", len(docs))
	}
	if string(docs["a"]) != string(Doc("a", 1)) {
		t.Errorf("Expected %s, got %s", Doc("a", 1), docs["a"])
	}

	info := engine.GetInfo()
	if info.Documents != 2 || info.Shards != 1 || info.SizeBytes == 0 {
		t.Errorf("Unexpected engine info %+v", info)
	}
}

func testAbort(t *testing.T, engine db.Engine) {
	mustCreateShard(t, engine, "s1")

	trx := mustTrx(t, engine, 5, "s1")
	mustApply(t, trx, ops.Insert{TID: 5, Shard: "s1", Payload: [][]byte{Doc("a", 1)}})
	if err := trx.Abort(); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}

	if docs := ReadShard(t, engine, "s1"); len(docs) != 0 {
		t.Errorf("Expected aborted documents to be discarded, got %d", len(docs))
	}
}

func testIntermediateCommit(t *testing.T, engine db.Engine) {
	mustCreateShard(t, engine, "s1")

	trx := mustTrx(t, engine, 5, "s1")
	mustApply(t, trx, ops.Insert{TID: 5, Shard: "s1", Payload: [][]byte{Doc("a", 1)}})
	if err := trx.IntermediateCommit(); err != nil {
		t.Fatalf("IntermediateCommit failed: %v", err)
	}
	if docs := ReadShard(t, engine, "s1"); len(docs) != 1 {
		t.Errorf("Expected intermediate commit to publish 1 document, got %d", len(docs))
	}

	// the transaction stays usable
	mustApply(t, trx, ops.Insert{TID: 5, Shard: "s1", Payload: [][]byte{Doc("b", 2)}})
	if err := trx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if docs := ReadShard(t, engine, "s1"); len(docs) != 2 {
		t.Errorf("Expected 2 documents, got %d", len(docs))
	}
}

func testDocumentErrors(t *testing.T, engine db.Engine) {
	mustCreateShard(t, engine, "s1")

	trx := mustTrx(t, engine, 5, "s1")
	mustApply(t, trx, ops.Insert{TID: 5, Shard: "s1", Payload: [][]byte{Doc("a", 1)}})
	if err := trx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	trx = mustTrx(t, engine, 9, "s1")
	cases := []struct {
		op   ops.Operation
		code document.RetCode
	}{
		{ops.Insert{TID: 9, Shard: "s1", Payload: [][]byte{Doc("a", 2)}}, document.RetCUniqueConstraintViolated},
		{ops.Update{TID: 9, Shard: "s1", Payload: [][]byte{Doc("x", 2)}}, document.RetCDocumentNotFound},
		{ops.Replace{TID: 9, Shard: "s1", Payload: [][]byte{Doc("x", 2)}}, document.RetCDocumentNotFound},
		{ops.Remove{TID: 9, Shard: "s1", Payload: [][]byte{[]byte(`{"_key":"x"}`)}}, document.RetCDocumentNotFound},
		{ops.Insert{TID: 9, Shard: "s1", Payload: [][]byte{[]byte(`{"value":1}`)}}, document.RetCInvalidDocument},
	}

	for _, c := range cases {
		res := mustApply(t, trx, c.op)
		if len(res.ErrorCodes) != 1 || res.ErrorCodes[0] != c.code {
			t.Errorf("%s: expected error code %s, got %v", c.op.Kind(), c.code, res.ErrorCodes)
		}
	}

	// mixed batch: only the failing document is reported
	res := mustApply(t, trx, ops.Insert{TID: 9, Shard: "s1", Payload: [][]byte{Doc("a", 3), Doc("b", 3)}})
	if len(res.ErrorCodes) != 1 {
		t.Errorf("Expected exactly one error code, got %v", res.ErrorCodes)
	}
	if err := trx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if docs := ReadShard(t, engine, "s1"); string(docs["a"]) != string(Doc("a", 1)) || len(docs) != 2 {
		t.Errorf("Unexpected shard content %v", docs)
	}
}

func testUpdateReplaceRemove(t *testing.T, engine db.Engine) {
	mustCreateShard(t, engine, "s1")

	trx := mustTrx(t, engine, 5, "s1")
	mustApply(t, trx, ops.Insert{TID: 5, Shard: "s1", Payload: [][]byte{
		[]byte(`{"_key":"a","name":"x","value":1}`), Doc("b", 1), Doc("c", 1),
	}})
	// the transaction sees its own writes
	res := mustApply(t, trx, ops.Update{TID: 5, Shard: "s1", Payload: [][]byte{[]byte(`{"_key":"a","value":2}`)}})
	if !res.Ok() {
		t.Fatalf("Update failed: %v", res.ErrorCodes)
	}
	mustApply(t, trx, ops.Replace{TID: 5, Shard: "s1", Payload: [][]byte{Doc("b", 7)}})
	mustApply(t, trx, ops.Remove{TID: 5, Shard: "s1", Payload: [][]byte{[]byte(`{"_key":"c"}`)}})
	if err := trx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	docs := ReadShard(t, engine, "s1")
	if len(docs) != 2 {
		t.Fatalf("Expected 2 documents, got %d", len(docs))
	}
	if name, _ := jsonparser.GetString(docs["a"], "name"); name != "x" {
		t.Errorf("Expected update to keep attribute name, got %s", docs["a"])
	}
	if v, _ := jsonparser.GetInt(docs["a"], "value"); v != 2 {
		t.Errorf("Expected update to set value 2, got %s", docs["a"])
	}
	if string(docs["b"]) != string(Doc("b", 7)) {
		t.Errorf("Expected replaced document, got %s", docs["b"])
	}
	if _, ok := docs["c"]; ok {
		t.Errorf("Expected c to be removed")
	}
}

func testTruncate(t *testing.T, engine db.Engine) {
	mustCreateShard(t, engine, "s1")

	trx := mustTrx(t, engine, 5, "s1")
	mustApply(t, trx, ops.Insert{TID: 5, Shard: "s1", Payload: [][]byte{Doc("a", 1), Doc("b", 1)}})
	if err := trx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	trx, err := engine.CreateTransaction(9, "s1", document.AccessModeExclusive)
	if err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}
	mustApply(t, trx, ops.Truncate{TID: 9, Shard: "s1"})
	// after the truncate the old key is free again
	res := mustApply(t, trx, ops.Insert{TID: 9, Shard: "s1", Payload: [][]byte{Doc("a", 2)}})
	if !res.Ok() {
		t.Fatalf("Expected insert after truncate to succeed, got %v", res.ErrorCodes)
	}
	if err := trx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	docs := ReadShard(t, engine, "s1")
	if len(docs) != 1 || string(docs["a"]) != string(Doc("a", 2)) {
		t.Errorf("Unexpected shard content after truncate: %v", docs)
	}
	if info := engine.GetInfo(); info.SizeBytes != uint64(len(Doc("a", 2))) {
		t.Errorf("Expected size %d after truncate, got %d", len(Doc("a", 2)), info.SizeBytes)
	}
}

func testSnapshotIsolation(t *testing.T, engine db.Engine) {
	mustCreateShard(t, engine, "s1")

	trx := mustTrx(t, engine, 5, "s1")
	mustApply(t, trx, ops.Insert{TID: 5, Shard: "s1", Payload: [][]byte{Doc("a", 1)}})
	if err := trx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	snap, err := engine.CreateSnapshot()
	if err != nil {
		t.Fatalf("CreateSnapshot failed: %v", err)
	}
	reader, err := snap.CreateCollectionReader("s1")
	if err != nil {
		t.Fatalf("CreateCollectionReader failed: %v", err)
	}

	trx = mustTrx(t, engine, 9, "s1")
	mustApply(t, trx, ops.Insert{TID: 9, Shard: "s1", Payload: [][]byte{Doc("b", 1)}})
	if err := trx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if docs := readAll(t, reader); len(docs) != 1 {
		t.Errorf("Expected reader to see 1 document of its view, got %d", len(docs))
	}

	// a reset view contains the later commit
	if err := snap.ResetTransaction(); err != nil {
		t.Fatalf("ResetTransaction failed: %v", err)
	}
	reader, err = snap.CreateCollectionReader("s1")
	if err != nil {
		t.Fatalf("CreateCollectionReader failed: %v", err)
	}
	if docs := readAll(t, reader); len(docs) != 2 {
		t.Errorf("Expected 2 documents after reset, got %d", len(docs))
	}

	if _, err := snap.CreateCollectionReader("missing"); err == nil {
		t.Errorf("Expected reader for unknown shard to fail")
	}
}

func testReaderSoftLimit(t *testing.T, engine db.Engine) {
	mustCreateShard(t, engine, "s1")

	const numDocs = 10
	trx := mustTrx(t, engine, 5, "s1")
	for i := 0; i < numDocs; i++ {
		mustApply(t, trx, ops.Insert{TID: 5, Shard: "s1", Payload: [][]byte{Doc(fmt.Sprintf("k%02d", i), 0)}})
	}
	if err := trx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	docSize := uint64(len(Doc("k00", 0)))

	snap, err := engine.CreateSnapshot()
	if err != nil {
		t.Fatalf("CreateSnapshot failed: %v", err)
	}
	reader, err := snap.CreateCollectionReader("s1")
	if err != nil {
		t.Fatalf("CreateCollectionReader failed: %v", err)
	}
	if count, ok := reader.GetDocCount(); ok && count != numDocs {
		t.Errorf("Expected doc count %d, got %d", numDocs, count)
	}

	// a limit of 3 documents gives batches of 3, 3, 3 and 1
	var batches []int
	for reader.HasMore() {
		n := 0
		reader.Read(func([]byte) { n++ }, 3*docSize)
		batches = append(batches, n)
	}
	if fmt.Sprint(batches) != "[3 3 3 1]" {
		t.Errorf("Expected batches [3 3 3 1], got %v", batches)
	}

	// a limit below one document still makes progress
	reader, _ = snap.CreateCollectionReader("s1")
	n := 0
	reader.Read(func([]byte) { n++ }, 1)
	if n != 1 {
		t.Errorf("Expected at least one document per read, got %d", n)
	}
}

func testConcurrentShards(t *testing.T, engine db.Engine) {
	const numShards = 8
	const numDocs = 50

	var wg sync.WaitGroup
	errs := make(chan error, numShards)
	for i := 0; i < numShards; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			shard := ops.ShardID(fmt.Sprintf("s%d", i))
			if err := engine.EnsureShard(shard, "c", nil); err != nil {
				errs <- err
				return
			}
			tid := ops.TransactionID(4*i + 1)
			trx, err := engine.CreateTransaction(tid, shard, document.AccessModeWrite)
			if err != nil {
				errs <- err
				return
			}
			for j := 0; j < numDocs; j++ {
				res, err := trx.Apply(ops.Insert{TID: tid, Shard: shard, Payload: [][]byte{Doc(fmt.Sprintf("k%d", j), j)}})
				if err != nil {
					errs <- err
					return
				}
				if !res.Ok() {
					errs <- errors.New("unexpected document error")
					return
				}
			}
			errs <- trx.Commit()
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Concurrent writer failed: %v", err)
		}
	}
	if info := engine.GetInfo(); info.Documents != numShards*numDocs {
		t.Errorf("Expected %d documents, got %d", numShards*numDocs, info.Documents)
	}
}
