// Package service holds the access decision engine and the Station facade
// that wires readers, relay and stores together.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/station/internal/station/events"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/store"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/types"
)

const (
	ReasonUserActive    = "user_active"
	ReasonUnknown       = "unknown_credential"
	ReasonNotRecognized = "not_recognized"
	ReasonDirectoryErr  = "directory_error"
)

// Feedback signals a decision on the door hardware.
type Feedback interface {
	Feedback(success bool)
}

type AccessService struct {
	users  store.UserDirectory
	audit  store.AuditSink
	relay  Feedback
	pub    events.Publisher
	logger zerolog.Logger
	now    func() time.Time
}

func NewAccessService(users store.UserDirectory, audit store.AuditSink, relay Feedback, pub events.Publisher, logger zerolog.Logger) *AccessService {
	if pub == nil {
		pub = events.Discard{}
	}
	return &AccessService{
		users:  users,
		audit:  audit,
		relay:  relay,
		pub:    pub,
		logger: logger.With().Str("component", "access").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Decide looks cred up in the directory and always issues exactly one relay
// feedback command followed by exactly one audit write.
func (s *AccessService) Decide(ctx context.Context, cred types.Credential) types.AccessAttempt {
	a := types.AccessAttempt{
		ID:         uuid.NewString(),
		Credential: cred,
		Outcome:    types.OutcomeFailure,
		Reason:     ReasonUnknown,
		Timestamp:  s.now(),
	}

	user, err := s.users.FindUser(ctx, cred.Kind, cred.ExternalID)
	switch {
	case err != nil:
		s.logger.Error().Err(err).Str("credential", cred.String()).Msg("directory lookup failed")
		a.Reason = ReasonDirectoryErr
	case user != nil:
		id := user.ID
		a.MatchedUserID = &id
		a.MatchedName = user.Name
		a.Outcome = types.OutcomeSuccess
		a.Reason = ReasonUserActive
	}

	s.finish(ctx, a, cred.ExternalID)
	return a
}

// DecideUnrecognized records a read the scanner itself could not match.
// No lookup happens; the attempt is always a failure.
func (s *AccessService) DecideUnrecognized(ctx context.Context, kind types.Kind, raw string) types.AccessAttempt {
	a := types.AccessAttempt{
		ID:         uuid.NewString(),
		Credential: types.Credential{Kind: kind},
		Outcome:    types.OutcomeFailure,
		Reason:     ReasonNotRecognized,
		Timestamp:  s.now(),
	}
	s.finish(ctx, a, raw)
	return a
}

func (s *AccessService) finish(ctx context.Context, a types.AccessAttempt, raw string) {
	success := a.Outcome == types.OutcomeSuccess
	s.relay.Feedback(success)
	s.recordAttempt(ctx, a, raw)

	s.logger.Info().
		Str("attempt_id", a.ID).
		Str("kind", string(a.Credential.Kind)).
		Str("data", raw).
		Str("outcome", string(a.Outcome)).
		Str("reason", a.Reason).
		Str("user", a.MatchedName).
		Msg("access decided")

	role := types.RoleRFIDReader
	if a.Credential.Kind == types.KindFingerprint {
		role = types.RoleFingerprintReader
	}
	s.pub.Publish(events.Event{Type: events.TypeAccessAttempt, Role: role, Attempt: &a, At: a.Timestamp})
}

// recordAttempt writes the audit row. A failed write is logged and
// dropped; it never changes the decision already signalled.
func (s *AccessService) recordAttempt(ctx context.Context, a types.AccessAttempt, raw string) {
	rec := types.AccessLogRecord{
		AttemptID: a.ID,
		UserID:    a.MatchedUserID,
		Kind:      a.Credential.Kind,
		DataRaw:   raw,
		Success:   a.Outcome == types.OutcomeSuccess,
		Reason:    a.Reason,
		InTime:    a.Timestamp,
	}
	if err := s.audit.AppendAccessLog(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("attempt_id", a.ID).Msg("audit write failed, attempt dropped")
	}
}
