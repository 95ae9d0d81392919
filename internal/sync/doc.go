// Package sync holds the types shared by the table synchronization engine:
// the delta message, its decoder, the reconciliation result and the error
// taxonomy.
//
// The engine keeps destination tables in step with an authoritative source
// in two modes:
//
//   - Full reconciliation: the whole source is paged into a staging table,
//     diffed against the destination and applied in one transaction.
//   - Delta sync: ADD, UPDATE and DELETE notifications are applied one
//     message at a time under a timestamp staleness guard.
//
// # Subpackages
//
//   - coordinator: per-table locks that serialize every operation on a table
//   - reconcile: the full sync (Staging) and delta sync (Delta) algorithms
//   - engine: the facade used by the scheduler, the HTTP API and the Kafka consumer
//   - scheduler: startup and periodic full sync with retry backoff
//
// # Errors
//
// Every failure surfaced by the engine is an *Error whose Kind is one of the
// sentinel errors below, so callers branch with errors.Is:
//
//   - ErrConfiguration: a table could not be resolved; fatal for that table only
//   - ErrExtraction: paging the source failed; the attempt is aborted
//   - ErrStorage: a statement failed; the transaction is rolled back
//   - ErrDecode: a delta message is malformed; consumers log and drop it
//   - ErrDuplicateKey: a delta ADD collided with an existing id
//   - ErrLockTimeout: the table lock could not be acquired in time
//
// A stale update is not an error. The engine never retries internally.
//
// # Delta Wire Format
//
//	{"table": "device", "type": "UPDATE", "idList": [1], "data": [{"id": 1, "ip": "10.0.0.3"}]}
//
// The type is matched case-insensitively. When idList is empty the ids are
// taken from the id field of the data records.
package sync
