package rfid

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/station/internal/station/events"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/types"
)

// KeySource delivers key-downs from the physical reader until ctx is
// done. lost is called each time an open device goes away.
type KeySource interface {
	Run(ctx context.Context, keys func(Key), lost func()) error
}

// Resolver finds the input device path bound to a role.
type Resolver interface {
	Resolve(ctx context.Context, role types.Role) (path string, ok bool, err error)
}

type SourceConfig struct {
	// Grab takes the device exclusively so card numbers are not typed into
	// whatever has keyboard focus.
	Grab          bool
	RetryInterval time.Duration
}

// linkTracker reports the source's connection state like a serial link.
type linkTracker struct {
	pub events.Publisher

	mu     sync.Mutex
	status types.LinkStatus
}

func (t *linkTracker) Status() types.LinkStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *linkTracker) set(state types.LinkState, path string) {
	t.mu.Lock()
	changed := t.status.State != state || t.status.Path != path
	t.status = types.LinkStatus{Role: types.RoleRFIDReader, State: state, Path: path}
	st := t.status
	t.mu.Unlock()
	if changed {
		t.pub.Publish(events.Event{Type: events.TypeLinkState, Role: types.RoleRFIDReader, Link: &st})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func newTracker(pub events.Publisher) *linkTracker {
	if pub == nil {
		pub = events.Discard{}
	}
	return &linkTracker{pub: pub, status: types.LinkStatus{Role: types.RoleRFIDReader}}
}

func sourceLogger(logger zerolog.Logger) zerolog.Logger {
	return logger.With().Str("component", "key_source").Str("role", string(types.RoleRFIDReader)).Logger()
}
