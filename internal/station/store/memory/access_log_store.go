package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/station/internal/station/types"
)

// AccessLogStore is an in-memory append-only log of access attempts.
// It is intended for use in tests and dev environments.
type AccessLogStore struct {
	mu   sync.Mutex
	logs []types.AccessLogRecord
}

func NewAccessLogStore() *AccessLogStore {
	return &AccessLogStore{}
}

func (s *AccessLogStore) AppendAccessLog(_ context.Context, rec types.AccessLogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.InTime.IsZero() {
		rec.InTime = time.Now().UTC()
	}
	s.logs = append(s.logs, rec)
	return nil
}

func (s *AccessLogStore) CloseOpenSuccessLog(_ context.Context, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, l := range s.logs {
		if !l.Success || l.OutTime != nil {
			continue
		}
		if idx < 0 || !l.InTime.Before(s.logs[idx].InTime) {
			idx = i
		}
	}
	if idx < 0 {
		return false, nil
	}
	t := now.UTC()
	s.logs[idx].OutTime = &t
	return true, nil
}

func (s *AccessLogStore) PruneClosedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.logs[:0]
	var deleted int64
	for _, l := range s.logs {
		if l.OutTime != nil && l.OutTime.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, l)
	}
	s.logs = kept
	return deleted, nil
}

// Logs returns a copy of all recorded entries.  Test-only helper.
func (s *AccessLogStore) Logs() []types.AccessLogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.AccessLogRecord, len(s.logs))
	copy(out, s.logs)
	return out
}
