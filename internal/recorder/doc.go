// Package recorder persists server events to TimescaleDB.
//
// A Recorder is a subscription listener: status changes, console lines and
// memory stats are transformed into rows and written in batches with
// pgx.Batch, flushed when the batch is full or on an interval. Rows that
// already exist are skipped (ON CONFLICT DO NOTHING).
package recorder
