package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/station/internal/station/store"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/types"
)

// UserDirectory is an in-memory user table for tests and dev.
type UserDirectory struct {
	mu     sync.RWMutex
	nextID int64
	users  []types.UserRecord
}

func NewUserDirectory(seed ...types.NewUser) *UserDirectory {
	d := &UserDirectory{}
	for _, u := range seed {
		_, _ = d.CreateUser(context.Background(), u)
	}
	return d
}

func (d *UserDirectory) FindUser(_ context.Context, kind types.Kind, externalID string) (*types.UserRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if u, ok := d.findLocked(kind, externalID); ok {
		return &u, nil
	}
	return nil, nil
}

func (d *UserDirectory) CreateUser(_ context.Context, u types.NewUser) (types.UserRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if u.Active {
		if existing, ok := d.findLocked(u.Kind, u.ExternalID); ok {
			return types.UserRecord{}, &store.DuplicateUserError{Existing: existing}
		}
	}

	d.nextID++
	rec := types.UserRecord{
		ID:         d.nextID,
		Name:       strings.TrimSpace(u.Name),
		Kind:       u.Kind,
		ExternalID: u.ExternalID,
		Active:     u.Active,
		CreatedAt:  time.Now().UTC(),
	}
	d.users = append(d.users, rec)
	return rec, nil
}

func (d *UserDirectory) ListExternalIDs(_ context.Context, kind types.Kind) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for _, u := range d.users {
		if u.Active && u.Kind == kind {
			out = append(out, u.ExternalID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Users returns a copy of every record.  Test-only helper.
func (d *UserDirectory) Users() []types.UserRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]types.UserRecord, len(d.users))
	copy(out, d.users)
	return out
}

func (d *UserDirectory) findLocked(kind types.Kind, externalID string) (types.UserRecord, bool) {
	for _, u := range d.users {
		if u.Active && u.Kind == kind && u.ExternalID == externalID {
			return u, true
		}
	}
	return types.UserRecord{}, false
}
