package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/Portunus/station/internal/db"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/store"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/types"
)

type UserDirectory struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewUserDirectory(db *sql.DB, writer *dbpkg.Worker) *UserDirectory {
	return &UserDirectory{db: db, writer: writer}
}

const userColumns = `id, name, kind, external_id, active, created_at_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.UserRecord, error) {
	var (
		u         types.UserRecord
		kind      string
		active    int
		createdMs int64
	)
	if err := row.Scan(&u.ID, &u.Name, &kind, &u.ExternalID, &active, &createdMs); err != nil {
		return types.UserRecord{}, err
	}
	u.Kind = types.Kind(kind)
	u.Active = active == 1
	u.CreatedAt = time.UnixMilli(createdMs).UTC()
	return u, nil
}

// FindUser returns the active, enabled user holding (kind, externalID).
func (s *UserDirectory) FindUser(ctx context.Context, kind types.Kind, externalID string) (*types.UserRecord, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `
SELECT `+userColumns+`
FROM users
WHERE kind = ? AND external_id = ? AND active = 1
LIMIT 1;
`, string(kind), externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindUser query: %w", err)
	}
	return &u, nil
}

// CreateUser inserts the user unless an active holder of the same credential
// exists, in which case a *store.DuplicateUserError names that holder. The
// check and the insert share one transaction.
func (s *UserDirectory) CreateUser(ctx context.Context, nu types.NewUser) (types.UserRecord, error) {
	name := strings.TrimSpace(nu.Name)
	now := time.Now().UTC()
	var active int
	if nu.Active {
		active = 1
	}

	var created types.UserRecord
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if nu.Active {
			existing, err := scanUser(tx.QueryRowContext(ctx, `
SELECT `+userColumns+`
FROM users
WHERE kind = ? AND external_id = ? AND active = 1
LIMIT 1;
`, string(nu.Kind), nu.ExternalID))
			if err == nil {
				return &store.DuplicateUserError{Existing: existing}
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("CreateUser duplicate check: %w", err)
			}
		}

		res, err := tx.ExecContext(ctx, `
INSERT INTO users(name, kind, external_id, active, created_at_ms)
VALUES (?, ?, ?, ?, ?);
`, name, string(nu.Kind), nu.ExternalID, active, now.UnixMilli())
		if err != nil {
			return fmt.Errorf("CreateUser insert: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("CreateUser last id: %w", err)
		}

		created = types.UserRecord{
			ID:         id,
			Name:       name,
			Kind:       nu.Kind,
			ExternalID: nu.ExternalID,
			Active:     nu.Active,
			CreatedAt:  time.UnixMilli(now.UnixMilli()).UTC(),
		}
		return nil
	})
	if err != nil {
		return types.UserRecord{}, err
	}
	return created, nil
}

func (s *UserDirectory) ListExternalIDs(ctx context.Context, kind types.Kind) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT external_id FROM users
WHERE kind = ? AND active = 1
ORDER BY external_id;
`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("ListExternalIDs query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ListExternalIDs scan: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
