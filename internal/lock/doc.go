// Package lock provides named, timeout-bounded mutual exclusion.
//
// A Locker never blocks indefinitely: TryLock gives up after the timeout and
// returns a nil Lease. Callers treat that as contention, not an error.
//
// Each successful TryLock returns its own Lease. Releasing a Lease only ever
// releases that acquisition, so a holder whose lease was taken over cannot
// free the lock for a third party.
//
// Two implementations exist:
//   - Registry: in-process, one slot per name, for a single indexsync process
//   - store.LeaseLocker: renewed lease rows in the SQLite database, for
//     processes sharing a database file
package lock
