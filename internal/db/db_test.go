package db_test

import (
	"context"
	"errors"
	"testing"

	"github.com/BrandonDHaskell/Portunus/station/internal/db"
)

func TestOpenDSN_AppliesMigrationsOnce(t *testing.T) {
	ctx := context.Background()
	conn, err := db.OpenDSN(ctx, db.MemoryDSN("test_"+t.Name()))
	if err != nil {
		t.Fatalf("OpenDSN: %v", err)
	}
	defer conn.Close()

	n, err := db.Migrate(ctx, conn)
	if err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no migrations on second run, got %d", n)
	}

	for _, table := range []string{"users", "access_logs", "device_bindings"} {
		var name string
		err := conn.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		if err != nil {
			t.Errorf("expected table %s: %v", table, err)
		}
	}
}

func TestParseDevCards(t *testing.T) {
	got := db.ParseDevCards([]string{"alice:04A1B2C3D4", "broken", ":nocard", "bob: 0099887766 "})
	if len(got) != 2 {
		t.Fatalf("expected 2 cards, got %d (%v)", len(got), got)
	}
	if got[0].Name != "alice" || got[0].CardID != "04A1B2C3D4" {
		t.Errorf("unexpected first card %+v", got[0])
	}
	if got[1].Name != "bob" || got[1].CardID != "0099887766" {
		t.Errorf("unexpected second card %+v", got[1])
	}
}

func TestSeedDev_Idempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.OpenDSN(ctx, db.MemoryDSN("test_"+t.Name()))
	if err != nil {
		t.Fatalf("OpenDSN: %v", err)
	}
	defer conn.Close()

	opt := db.SeedDevOptions{Cards: []db.DevCard{{Name: "alice", CardID: "04A1B2C3D4"}}}
	for i := 0; i < 2; i++ {
		if err := db.SeedDev(ctx, conn, opt); err != nil {
			t.Fatalf("SeedDev %d: %v", i, err)
		}
	}

	var count int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 seeded user, got %d", count)
	}
}

func TestWorker_ExecAndClose(t *testing.T) {
	ctx := context.Background()
	conn, err := db.OpenDSN(ctx, db.MemoryDSN("test_"+t.Name()))
	if err != nil {
		t.Fatalf("OpenDSN: %v", err)
	}
	defer conn.Close()

	w := db.NewWorker(conn)
	n, err := w.Exec(ctx, `
INSERT INTO device_bindings(role, vendor_id, product_id, last_known_path, updated_at_ms)
VALUES ('relay', '2341', '0043', '/dev/ttyACM0', 0);`)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 affected row, got %d", n)
	}

	w.Close()
	w.Close()

	if _, err := w.Exec(ctx, `DELETE FROM device_bindings`); !errors.Is(err, db.ErrWorkerClosed) {
		t.Errorf("expected ErrWorkerClosed, got %v", err)
	}
}
