// Package testing provides standardised tests, benchmarks and test doubles for
// storage engines that satisfy the db.Engine interface.
//
// The package contains:
//   - testing: A conformance suite for the db.Engine contract (shard lifecycle,
//     transactions, document error codes, read views and reader batching)
//   - benchmark: Throughput tests for common engine operations
//   - fakes: Recording implementations of the storage and cluster interfaces of
//     the document package, used by the state machine tests
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func() db.Engine {
//		return NewMyEngine()
//	}
//
//	// Running the standard test suite
//	dbtesting.RunEngineTests(t, "MyEngine", factory)
//
//	// Running performance benchmarks
//	dbtesting.RunEngineBenchmarks(b, "MyEngine", factory)
package testing
