// Package store provides durable storage for regsync identity state and
// scheduled tasks.
//
// Two kinds of data survive a restart:
//   - Preferences: string values keyed by name (channel identity, snapshot,
//     named-user tokens, pending tag deltas, platform fingerprint)
//   - Scheduled tasks: task descriptors with a fire-at time, used for
//     delayed retries and for submissions from other processes
//
// Store is the SQLite implementation and the default. The badgerstore
// subpackage provides an embedded BadgerDB alternative. Both satisfy
// Backend.
//
// # Database Configuration
//
//   - WAL mode: other processes may read and submit while the engine writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// Scheduled tasks are returned ordered by fire_at, then id, so tasks due at
// the same instant keep their submission order.
package store
