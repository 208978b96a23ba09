// Package database provides connection pool management for TimescaleDB.
//
// The recorder stores the event history of every watched server:
//   - server_status: status transitions from the stream and the REST poller
//   - console_lines: console output
//   - server_stats: memory usage samples
//
// All tables are append-only; timestamps are stored as Unix microseconds.
package database
