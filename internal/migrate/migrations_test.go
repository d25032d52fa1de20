package migrate

import (
	"context"
	"testing"

	"github.com/lgalvao/sgc-sub001/internal/db"
)

func TestMigrateIsRepeatable(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	latest, err := Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest < 1 {
		t.Fatalf("expected at least one embedded migration, got %d", latest)
	}
	for i := 0; i < 2; i++ {
		v, err := Migrate(context.Background(), conn)
		if err != nil {
			t.Fatalf("migrate run %d: %v", i, err)
		}
		if v != latest {
			t.Fatalf("run %d: version %d, want %d", i, v, latest)
		}
	}

	var n int
	if err := conn.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name IN ('processos','subprocessos','mapas','events')`).Scan(&n); err != nil {
		t.Fatalf("tables: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected core tables, found %d", n)
	}
}
