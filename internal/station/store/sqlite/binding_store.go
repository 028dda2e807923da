package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Portunus/station/internal/db"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/types"
)

type BindingStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewBindingStore(db *sql.DB, writer *dbpkg.Worker) *BindingStore {
	return &BindingStore{db: db, writer: writer}
}

func (s *BindingStore) ReadBinding(ctx context.Context, role types.Role) (*types.DeviceBinding, error) {
	var (
		b         = types.DeviceBinding{Role: role}
		updatedMs int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT vendor_id, product_id, last_known_path, updated_at_ms
FROM device_bindings
WHERE role = ?;
`, string(role)).Scan(&b.VendorID, &b.ProductID, &b.LastKnownPath, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ReadBinding query: %w", err)
	}
	b.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return &b, nil
}

func (s *BindingStore) WriteBinding(ctx context.Context, b types.DeviceBinding) error {
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}
	if _, err := s.writer.Exec(ctx, `
INSERT INTO device_bindings(role, vendor_id, product_id, last_known_path, updated_at_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(role) DO UPDATE SET
  vendor_id       = excluded.vendor_id,
  product_id      = excluded.product_id,
  last_known_path = excluded.last_known_path,
  updated_at_ms   = excluded.updated_at_ms;
`, string(b.Role), b.VendorID, b.ProductID, b.LastKnownPath, b.UpdatedAt.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("WriteBinding upsert: %w", err)
	}
	return nil
}
