// Package storage persists notifications, their append-only delivery
// history, and the dedup keys backing idempotent delivery.
//
// Two drivers:
//   - memory: mutex-guarded in-process maps (tests, demos)
//   - sqlite: single-file database, WAL mode, embedded schema migration
//
// Both implement the same atomic claim semantics, which is the sole
// mutual-exclusion point of the dispatch pipeline.
package storage
