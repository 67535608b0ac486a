// Package store provides the SQLite database used by lookup INJECT plugins.
//
// A lookup reads a single column of a single row:
//
//	SELECT column FROM table WHERE match = ? LIMIT 1
//
// Table and column names come from plugin configuration and are validated as
// plain identifiers before they are quoted into the statement; the key is
// always bound as a parameter.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Values are returned in the tree's native form: TEXT and BLOB as string,
// INTEGER as int64, REAL as float64 (int64 when integral), NULL as nil.
package store
