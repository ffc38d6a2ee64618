// Package store provides SQLite-backed durable storage for indexsync.
//
// The store holds three bookkeeping tables next to the application's record
// tables:
//   - enqueueing_sessions: one bulk-scan session per entity type
//   - indexing_queue: append-only pending index mutations
//   - locks: named leases used by LeaseLocker
//
// # Critical Patterns
//
// Atomic page commit:
//   - CommitPage appends the page's queue entries and advances (or deletes)
//     the session in one transaction, so a crash never loses a page nor
//     re-reads a committed one
//
// Deterministic ordering:
//   - Record pages are read with ORDER BY <ordering key> ASC
//   - Session FIFO uses ORDER BY created_at ASC, entity_name ASC
//   - Queue drains read ORDER BY id ASC
//
// Record tables are never written by this package. They are read through
// queries compiled by internal/querysql.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
