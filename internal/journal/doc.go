// Package journal keeps an append-only SQLite history of jobs.
//
// Three tables:
//   - jobs: one row per job, with its terminal status
//   - tuples: one row per tool invocation outcome
//   - events: every observer notification
//
// # Ordering
//
// Rows are stamped with a logical sequence number from Clock, never wall
// time, and every query orders by it (then by id). Reading the same journal
// twice yields identical results.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
package journal
