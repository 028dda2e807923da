package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Portunus/station/internal/station/types"
)

var ErrNotFound = errors.New("record not found")

// DuplicateUserError is returned by CreateUser when an active user already
// holds the same credential.
type DuplicateUserError struct {
	Existing types.UserRecord
}

func (e *DuplicateUserError) Error() string {
	return fmt.Sprintf("credential %s:%s already registered to %q",
		e.Existing.Kind, e.Existing.ExternalID, e.Existing.Name)
}

// UserDirectory is the external user lookup and registration interface.
type UserDirectory interface {
	// FindUser returns the active user holding the credential, or nil.
	FindUser(ctx context.Context, kind types.Kind, externalID string) (*types.UserRecord, error)
	CreateUser(ctx context.Context, u types.NewUser) (types.UserRecord, error)
	// ListExternalIDs returns the credentials held by active users of kind.
	ListExternalIDs(ctx context.Context, kind types.Kind) ([]string, error)
}

// AuditSink persists access attempts as an append-only log. The only
// mutation allowed is stamping the exit time of an open successful entry.
type AuditSink interface {
	AppendAccessLog(ctx context.Context, rec types.AccessLogRecord) error
	// CloseOpenSuccessLog stamps the most recent successful entry that has
	// no exit time yet. It reports whether an entry was closed.
	CloseOpenSuccessLog(ctx context.Context, now time.Time) (bool, error)
	// PruneClosedBefore deletes closed entries whose exit time is before cutoff.
	PruneClosedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// BindingStore persists one DeviceBinding per role.
type BindingStore interface {
	// ReadBinding returns nil when the role has never been bound.
	ReadBinding(ctx context.Context, role types.Role) (*types.DeviceBinding, error)
	WriteBinding(ctx context.Context, b types.DeviceBinding) error
}
