package rfid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/station/internal/dispatch"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/events"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/store"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/types"
)

const (
	DefaultConfirmWindow = 5 * time.Second
	DefaultEnrollWindow  = 60 * time.Second
	opTimeout            = 5 * time.Second
)

var (
	ErrNoCandidate  = errors.New("no confirmed card awaiting submission")
	ErrNameRequired = errors.New("name is required")
)

// DuplicateError is returned by Submit when the candidate card already
// belongs to an active user.
type DuplicateError struct {
	Owner types.UserRecord
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("card %s already registered to %q", e.Owner.ExternalID, e.Owner.Name)
}

// Decider judges credentials outside enrollment.
type Decider interface {
	Decide(ctx context.Context, cred types.Credential) types.AccessAttempt
}

type Config struct {
	ConfirmWindow time.Duration
	EnrollWindow  time.Duration
}

// Machine routes completed card reads either to the decision engine or to
// enrollment. Every method must run on the RFID role's dispatch loop.
type Machine struct {
	clock   dispatch.Clock
	scanner *Scanner
	decider Decider
	users   store.UserDirectory
	pub     events.Publisher
	logger  zerolog.Logger
	cfg     Config

	enrolling  bool
	firstTap   string
	candidate  string
	confirm    dispatch.Timer
	confirmSeq uint64
	window     dispatch.Timer
	windowSeq  uint64
	stage      types.Stage
	message    string
}

func NewMachine(cfg Config, clock dispatch.Clock, decider Decider, users store.UserDirectory, pub events.Publisher, logger zerolog.Logger) *Machine {
	if cfg.ConfirmWindow <= 0 {
		cfg.ConfirmWindow = DefaultConfirmWindow
	}
	if cfg.EnrollWindow <= 0 {
		cfg.EnrollWindow = DefaultEnrollWindow
	}
	if pub == nil {
		pub = events.Discard{}
	}
	m := &Machine{
		clock:   clock,
		decider: decider,
		users:   users,
		pub:     pub,
		logger:  logger.With().Str("component", "rfid").Logger(),
		cfg:     cfg,
		stage:   types.StageInactive,
		message: "Enrollment is not active",
	}
	m.scanner = NewScanner(clock, m.handleScan)
	return m
}

func (m *Machine) HandleKey(k Key) { m.scanner.HandleKey(k) }

// ScannerState exposes the keystroke decoder state for diagnostics.
func (m *Machine) ScannerState() ScanState { return m.scanner.State() }

// SourceLost drops a partially typed card when the input device goes away.
func (m *Machine) SourceLost() {
	if m.scanner.State() == Scanning {
		m.scanner.Reset()
	}
}

// StartEnroll enters enroll mode, discarding any previous taps or
// candidate, and arms the enroll window.
func (m *Machine) StartEnroll() {
	m.enrolling = true
	m.firstTap = ""
	m.candidate = ""
	m.stopConfirm()
	m.scanner.Reset()

	m.armWindow()

	m.logger.Info().Msg("enroll mode started")
	m.setStage(types.StageWaitingFirstTap, "Tap the card")
}

// armWindow (re)starts the enroll window. It only ends enroll mode while
// no candidate is confirmed.
func (m *Machine) armWindow() {
	m.stopWindow()
	seq := m.windowSeq
	m.window = m.clock.AfterFunc(m.cfg.EnrollWindow, func() {
		if seq != m.windowSeq || !m.enrolling || m.candidate != "" {
			return
		}
		m.window = nil
		m.logger.Info().Msg("enroll window expired, back to normal scanning")
		m.endEnroll()
		m.setStage(types.StageTimedOut, "Time is up, enrollment stopped")
	})
}

// Submit registers the confirmed candidate under name. The duplicate check
// runs here, against the directory as it is now.
func (m *Machine) Submit(ctx context.Context, name string) (types.Credential, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Credential{}, ErrNameRequired
	}
	if m.candidate == "" {
		return types.Credential{}, ErrNoCandidate
	}
	card := m.candidate

	existing, err := m.users.FindUser(ctx, types.KindRFID, card)
	if err != nil {
		return types.Credential{}, fmt.Errorf("check card %s: %w", card, err)
	}
	if existing != nil {
		return types.Credential{}, m.rejectDuplicate(*existing)
	}

	u, err := m.users.CreateUser(ctx, types.NewUser{
		Name:       name,
		Kind:       types.KindRFID,
		ExternalID: card,
		Active:     true,
	})
	if err != nil {
		var dup *store.DuplicateUserError
		if errors.As(err, &dup) {
			return types.Credential{}, m.rejectDuplicate(dup.Existing)
		}
		return types.Credential{}, fmt.Errorf("register card %s: %w", card, err)
	}

	m.endEnroll()
	m.logger.Info().Int64("user_id", u.ID).Str("name", u.Name).Str("card", card).Msg("card enrolled")
	m.setStage(types.StageSucceeded, fmt.Sprintf("Registered card %s for %s", card, u.Name))
	return types.RFIDCredential(card), nil
}

func (m *Machine) Status() types.EnrollmentStatus {
	st := types.EnrollmentStatus{Kind: types.KindRFID, Stage: m.stage, Message: m.message}
	if m.candidate != "" {
		c := types.RFIDCredential(m.candidate)
		st.PendingCredential = &c
	}
	return st
}

func (m *Machine) Enrolling() bool { return m.enrolling }

func (m *Machine) handleScan(card string) {
	m.logger.Debug().Str("card", card).Bool("enrolling", m.enrolling).Msg("card read")

	if !m.enrolling {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		m.decider.Decide(ctx, types.RFIDCredential(card))
		return
	}

	if m.firstTap == "" {
		m.firstTap = card
		m.stopConfirm()
		seq := m.confirmSeq
		m.confirm = m.clock.AfterFunc(m.cfg.ConfirmWindow, func() {
			if seq != m.confirmSeq || m.firstTap == "" {
				return
			}
			m.confirm = nil
			m.firstTap = ""
			m.setStage(types.StageFailed, "Confirmation window expired, tap the card again")
		})
		m.setStage(types.StageWaitingSecondTap, fmt.Sprintf("First tap read (%s), tap again to confirm", card))
		return
	}

	m.stopConfirm()
	first := m.firstTap
	m.firstTap = ""
	if card != first {
		m.logger.Info().Str("first", first).Str("second", card).Msg("enroll taps do not match")
		m.setStage(types.StageFailed, "Cards do not match, tap the first card again")
		return
	}

	m.candidate = card
	m.stopWindow()
	m.scanner.Freeze()
	m.setStage(types.StageReady, "Card confirmed, ready to submit")
}

// rejectDuplicate drops the candidate and lets the operator tap another
// card without leaving enroll mode. The enroll window starts over.
func (m *Machine) rejectDuplicate(owner types.UserRecord) error {
	m.candidate = ""
	m.scanner.Reset()
	m.armWindow()
	m.logger.Warn().Str("card", owner.ExternalID).Str("owner", owner.Name).Msg("card already registered")
	m.setStage(types.StageWaitingFirstTap, fmt.Sprintf("Card already registered to %s", owner.Name))
	return &DuplicateError{Owner: owner}
}

func (m *Machine) endEnroll() {
	m.enrolling = false
	m.firstTap = ""
	m.candidate = ""
	m.stopConfirm()
	m.stopWindow()
	m.scanner.Reset()
}

func (m *Machine) stopConfirm() {
	if m.confirm != nil {
		m.confirm.Stop()
		m.confirm = nil
	}
	m.confirmSeq++
}

func (m *Machine) stopWindow() {
	if m.window != nil {
		m.window.Stop()
		m.window = nil
	}
	m.windowSeq++
}

func (m *Machine) setStage(stage types.Stage, msg string) {
	m.stage, m.message = stage, msg
	st := m.Status()
	m.pub.Publish(events.Event{
		Type:       events.TypeEnrollment,
		Role:       types.RoleRFIDReader,
		Enrollment: &st,
		Message:    msg,
		At:         m.clock.Now(),
	})
}
