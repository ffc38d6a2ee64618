// Package engine implements the enqueueing-session and queue-processing
// engines.
//
// ARCHITECTURE:
//
// SessionManager owns the lifecycle of bulk-scan sessions, one per entity
// type. Every session mutation runs under a named lock with a bounded wait;
// failing to get the lock in time is reported as a false/0 result, never as
// an error.
//
// QueueManager is the public surface. It appends mutations to the durable
// queue, delegates session work to SessionManager and drains the queue into
// an index.Writer.
//
// The two processing loops are independent:
//  1. ProcessNextEnqueueingSession turns one page of a table scan into INDEX
//     queue entries and advances (or deletes) the session atomically.
//  2. DrainBatch applies the oldest ready queue entries to the index and
//     removes the ones that were applied. A group whose write fails is
//     deferred with exponential backoff instead of blocking the queue head.
//
// Queue append and drain take no locks. Delivery is at least once;
// duplicates are tolerated because the index writer is idempotent.
package engine
