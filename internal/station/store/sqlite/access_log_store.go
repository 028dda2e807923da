package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Portunus/station/internal/db"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/types"
)

type AccessLogStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAccessLogStore(db *sql.DB, writer *dbpkg.Worker) *AccessLogStore {
	return &AccessLogStore{db: db, writer: writer}
}

func (s *AccessLogStore) AppendAccessLog(ctx context.Context, rec types.AccessLogRecord) error {
	if rec.InTime.IsZero() {
		rec.InTime = time.Now().UTC()
	}

	var userID any
	if rec.UserID != nil {
		userID = *rec.UserID
	}
	var outMs any
	if rec.OutTime != nil {
		outMs = rec.OutTime.UTC().UnixMilli()
	}
	var success int
	if rec.Success {
		success = 1
	}

	if _, err := s.writer.Exec(ctx, `
INSERT INTO access_logs(
  attempt_id, user_id, kind, data_raw, is_success, reason, in_time_ms, out_time_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`,
		rec.AttemptID, userID, string(rec.Kind), rec.DataRaw, success, rec.Reason,
		rec.InTime.UTC().UnixMilli(), outMs,
	); err != nil {
		return fmt.Errorf("AppendAccessLog insert: %w", err)
	}
	return nil
}

// CloseOpenSuccessLog stamps out_time on the latest open successful entry
// in a single conditional UPDATE.
func (s *AccessLogStore) CloseOpenSuccessLog(ctx context.Context, now time.Time) (bool, error) {
	n, err := s.writer.Exec(ctx, `
UPDATE access_logs
SET out_time_ms = ?
WHERE id = (
  SELECT id FROM access_logs
  WHERE is_success = 1 AND out_time_ms IS NULL
  ORDER BY in_time_ms DESC, id DESC
  LIMIT 1
);
`, now.UTC().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("CloseOpenSuccessLog update: %w", err)
	}
	return n > 0, nil
}

// PruneClosedBefore deletes entries whose out_time is before cutoff. Open
// entries are never pruned.
func (s *AccessLogStore) PruneClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.writer.Exec(ctx, `
DELETE FROM access_logs
WHERE out_time_ms IS NOT NULL AND out_time_ms < ?;
`, cutoff.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("PruneClosedBefore: %w", err)
	}
	return n, nil
}
