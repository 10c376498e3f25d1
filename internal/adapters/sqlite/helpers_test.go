package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/atvirokodosprendimai/incidentd/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/incidentd/migrations"
	"github.com/rs/zerolog"
)

func openTestDB(t *testing.T) (*gormsqlite.DB, *sql.DB) {
	t.Helper()
	ctx := context.Background()

	db, err := gormsqlite.Open(filepath.Join(t.TempDir(), "test.sqlite"), gormsqlite.Options{Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	wdb, err := db.WriteSQLDB()
	if err != nil {
		t.Fatalf("writer sql db: %v", err)
	}
	if err := migrations.Up(ctx, wdb, zerolog.Nop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db, wdb
}

func assertTableCount(t *testing.T, ctx context.Context, wdb *sql.DB, table string, want int) {
	t.Helper()
	var got int
	row := wdb.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table)
	if err := row.Scan(&got); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	if got != want {
		t.Fatalf("unexpected %s count: got %d want %d", table, got, want)
	}
}
