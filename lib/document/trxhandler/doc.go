// Package trxhandler applies replicated operations to the storage engine.
//
// The Handler maps every open state machine transaction to a storage transaction
// (created on first use through an injected factory) and decides which failures are
// benign and which are fatal:
//
//   - "unique constraint violated" and "document not found" are benign. They are the
//     expected outcome of replaying an operation whose effect already holds.
//   - Every other failure is fatal. It signals that the replica may diverge from the
//     leader and must stop applying entries.
//
// Operations on shards that are not available locally are accepted as no-ops.
//
// Validate is the side-effect free counterpart of ApplyEntry used during recovery
// to decide whether an entry is applied or skipped.
package trxhandler
