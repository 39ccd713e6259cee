// Package docstore implements an in-memory document engine (db.Engine).
//
// Every shard is an ordered B-tree (github.com/google/btree) of JSON documents,
// keyed by the "_key" attribute of the document. Shards are kept in a concurrent
// map (xsync.MapOf), so operations on different shards never contend.
//
// Transactions buffer their writes and apply them to the shard tree under the
// shard's write lock on Commit or IntermediateCommit. Reads inside a transaction
// see the transaction's own writes layered over the committed documents.
// Document level failures are reported per document:
//
//   - Insert of an existing key: RetCUniqueConstraintViolated
//   - Update, Replace or Remove of a missing key: RetCDocumentNotFound
//   - Documents that are not JSON objects with a non-empty "_key": RetCInvalidDocument
//
// Update performs a shallow merge (github.com/buger/jsonparser) of the new
// attributes into the stored document.
//
// Read views (CreateSnapshot) are built from copy-on-write clones of the shard
// trees. Taking a view is cheap and it is never affected by later commits.
// Collection readers walk their view in key order and stop once the soft byte
// limit of a batch is reached.
package docstore
