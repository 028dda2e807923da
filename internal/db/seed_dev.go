package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type DevCard struct {
	Name   string
	CardID string
}

type SeedDevOptions struct {
	Cards []DevCard
}

// ParseDevCards turns "alice:04A1B2C3D4,bob:0099887766" into DevCards.
// Malformed entries are skipped.
func ParseDevCards(entries []string) []DevCard {
	var out []DevCard
	for _, e := range entries {
		name, card, ok := strings.Cut(e, ":")
		name, card = strings.TrimSpace(name), strings.TrimSpace(card)
		if !ok || name == "" || card == "" {
			continue
		}
		out = append(out, DevCard{Name: name, CardID: card})
	}
	return out
}

// SeedDev registers RFID users so a bench station grants access without an
// enrollment round-trip. Cards that already have an active holder are left
// alone.
func SeedDev(ctx context.Context, conn *sql.DB, opt SeedDevOptions) error {
	now := time.Now().UTC().UnixMilli()

	for _, c := range opt.Cards {
		if _, err := conn.ExecContext(ctx, `
INSERT INTO users(name, kind, external_id, active, created_at_ms)
SELECT ?, 'rfid', ?, 1, ?
WHERE NOT EXISTS (
  SELECT 1 FROM users WHERE kind = 'rfid' AND external_id = ? AND active = 1
);`, c.Name, c.CardID, now, c.CardID); err != nil {
			return fmt.Errorf("seed card %s: %w", c.CardID, err)
		}
	}
	return nil
}
