package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer runs a statement. *pgxpool.Pool and pgx.Tx satisfy it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Tables, in creation order.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS server_status (
		received_at BIGINT NOT NULL,
		server_id   TEXT NOT NULL,
		status      SMALLINT NOT NULL,
		players     INTEGER NOT NULL DEFAULT 0,
		max_players INTEGER NOT NULL DEFAULT 0,
		source      TEXT NOT NULL,
		PRIMARY KEY (server_id, received_at, source)
	)`,
	`CREATE TABLE IF NOT EXISTS console_lines (
		received_at BIGINT NOT NULL,
		server_id   TEXT NOT NULL,
		seq         BIGINT NOT NULL,
		line        TEXT NOT NULL,
		PRIMARY KEY (server_id, received_at, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS server_stats (
		received_at    BIGINT NOT NULL,
		server_id      TEXT NOT NULL,
		memory_percent DOUBLE PRECISION NOT NULL,
		memory_usage   BIGINT NOT NULL,
		PRIMARY KEY (server_id, received_at)
	)`,
}

// EnsureSchema creates the recorder tables if they do not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}
