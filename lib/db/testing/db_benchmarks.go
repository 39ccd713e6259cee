package testing

import (
	"fmt"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
)

// RunEngineBenchmarks runs all benchmarks for an Engine implementation
func RunEngineBenchmarks(b *testing.B, name string, factory db.EngineFactory) {

	b.Run("InsertCommit", func(b *testing.B) {
		benchmarkInsertCommit(b, factory())
	})

	b.Run("Update", func(b *testing.B) {
		benchmarkUpdate(b, factory())
	})

	b.Run("ReadSnapshot", func(b *testing.B) {
		benchmarkReadSnapshot(b, factory())
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchmarkInsertCommit(b *testing.B, engine db.Engine) {
	mustCreateShard(b, engine, "s1")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tid := ops.TransactionID(4*i + 1)
		trx, _ := engine.CreateTransaction(tid, "s1", document.AccessModeWrite)
		_, _ = trx.Apply(ops.Insert{TID: tid, Shard: "s1", Payload: [][]byte{Doc(fmt.Sprintf("k%d", i), i)}})
		_ = trx.Commit()
	}
}

func benchmarkUpdate(b *testing.B, engine db.Engine) {
	mustCreateShard(b, engine, "s1")
	fill(b, engine, "s1", 1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tid := ops.TransactionID(4*i + 5)
		trx, _ := engine.CreateTransaction(tid, "s1", document.AccessModeWrite)
		_, _ = trx.Apply(ops.Update{TID: tid, Shard: "s1", Payload: [][]byte{Doc(fmt.Sprintf("k%d", i%1000), i)}})
		_ = trx.Commit()
	}
}

func benchmarkReadSnapshot(b *testing.B, engine db.Engine) {
	mustCreateShard(b, engine, "s1")
	fill(b, engine, "s1", 10_000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		snap, _ := engine.CreateSnapshot()
		reader, _ := snap.CreateCollectionReader("s1")
		for reader.HasMore() {
			reader.Read(func([]byte) {}, 64*1024)
		}
	}
}

func fill(b *testing.B, engine db.Engine, shard ops.ShardID, n int) {
	b.Helper()

	trx := mustTrx(b, engine, 1, shard)
	for i := 0; i < n; i++ {
		mustApply(b, trx, ops.Insert{TID: 1, Shard: shard, Payload: [][]byte{Doc(fmt.Sprintf("k%d", i), i)}})
	}
	if err := trx.Commit(); err != nil {
		b.Fatalf("Commit failed: %v", err)
	}
}
