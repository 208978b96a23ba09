package database

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/exaroton/internal/config"
)

type fakeExecer struct {
	stmts []string
	err   error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	f.stmts = append(f.stmts, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func TestEnsureSchema(t *testing.T) {
	db := &fakeExecer{}
	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	want := []string{"server_status", "console_lines", "server_stats"}
	if len(db.stmts) != len(want) {
		t.Fatalf("executed %d statements, want %d", len(db.stmts), len(want))
	}
	for i, table := range want {
		if !strings.Contains(db.stmts[i], "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("statement %d does not create %s", i, table)
		}
	}
}

func TestEnsureSchema_Error(t *testing.T) {
	boom := errors.New("permission denied")
	err := EnsureSchema(context.Background(), &fakeExecer{err: boom})
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped %v", err, boom)
	}
}

func TestPoolConfig(t *testing.T) {
	cfg := config.DBConfig{
		Host:     "localhost",
		Port:     5432,
		Name:     "exaroton",
		User:     "recorder",
		Password: "secret",
		SSLMode:  "disable",
		MaxConns: 8,
		MinConns: 1,
	}

	poolCfg, err := PoolConfig(cfg)
	if err != nil {
		t.Fatalf("PoolConfig failed: %v", err)
	}
	if poolCfg.MaxConns != 8 || poolCfg.MinConns != 1 {
		t.Errorf("MaxConns = %d, MinConns = %d, want 8, 1", poolCfg.MaxConns, poolCfg.MinConns)
	}
	if poolCfg.ConnConfig.Database != "exaroton" || poolCfg.ConnConfig.User != "recorder" {
		t.Errorf("ConnConfig = %s@%s", poolCfg.ConnConfig.User, poolCfg.ConnConfig.Database)
	}
	if got := poolCfg.ConnConfig.RuntimeParams["application_name"]; got != ApplicationName {
		t.Errorf("application_name = %q, want %q", got, ApplicationName)
	}
}
