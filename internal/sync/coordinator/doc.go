// Package coordinator serializes synchronization work per table.
//
// Every full sync and every delta message runs inside WithTableLock, which
// holds the table's lock for the duration of the callback and releases it on
// every exit path, including a panic. Operations on different tables never
// contend. The lock is not reentrant: calling WithTableLock for the same table
// from inside the callback blocks until the lock timeout, or forever when no
// timeout is configured.
//
// # Lock Timeout
//
// By default acquisition blocks until the lock is free or the context is
// cancelled. WithLockTimeout bounds the wait; on expiry the call fails with
// sync.ErrLockTimeout and fn is not run.
//
// # Status
//
// The coordinator tracks an Idle/Running phase per table along with the last
// operation, its timing and its error, for operators. Nothing is persisted.
//
// # Usage Example
//
//	coord := coordinator.New([]string{"device"}, coordinator.WithLockTimeout(30*time.Second))
//	err := coord.WithTableLock(ctx, "device", status.OperationFull, func() error {
//	    return staging.SyncFull(ctx, desc)
//	})
package coordinator
