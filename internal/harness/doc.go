// Package harness runs scenario tests against the session and queue engine.
//
// A scenario declares record tables, entity types and a list of operations.
// The harness executes the operations against a fresh store with a
// deterministic clock and a recording index writer, then evaluates
// assertions on the index writes and the final store state.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	schema:
//	  - CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT)
//	records:
//	  customers:
//	    - { id: 1, name: ada }
//	entities:
//	  - { name: Customer, table: customers, key: [id], indexed: true }
//	page_size: 2
//	batch_size: 10
//	fail_writes: [Product]
//	setup:
//	  - op: init
//	    entity: Customer
//	flow:
//	  - op: process
//	    expect: { count: 2 }
//	assertions:
//	  - type: write_contains
//	    op: INDEX
//	    entity: Customer
//	    ids: ["1", "2"]
//	  - type: row_count
//	    table: enqueueing_sessions
//	    count: 0
//
// # Operations
//
// init, init_all, suspend, resume, stop, remove, process, enqueue_index,
// enqueue_delete, enqueue_all, batch, drain and empty. Session transitions
// report ok; the others report a count.
//
// # Assertion Types
//
//   - write_contains: the ids were applied to the index for op and entity
//   - write_order: write groups ("INDEX Customer") appear in this order
//   - write_count: the number of writer calls for op and entity
//   - final_state: the first row of a table matching where has these values
//   - row_count: the number of rows of a table matching where
//
// Writes to entity types listed in fail_writes fail, so their queue entries
// stay pending.
package harness
