package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/station/internal/dispatch"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/events"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/store"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/types"
)

const (
	DefaultMaxSlot       = 63
	DefaultEnrollTimeout = 60 * time.Second
	DefaultCooldown      = 3500 * time.Millisecond
	// slotDelay separates the start-capture command from the slot number.
	slotDelay = 500 * time.Millisecond
)

var (
	ErrNameRequired = errors.New("name is required")
	ErrInvalidSlot  = errors.New("slot out of range")
	ErrSlotInUse    = errors.New("slot already enrolled")
)

// Commander writes command lines to the scanner.
type Commander interface {
	WriteLine(s string)
}

// Decider judges credentials outside enrollment.
type Decider interface {
	Decide(ctx context.Context, cred types.Credential) types.AccessAttempt
	DecideUnrecognized(ctx context.Context, kind types.Kind, raw string) types.AccessAttempt
}

type Config struct {
	MaxSlot       int
	EnrollTimeout time.Duration
	Cooldown      time.Duration
}

// Machine reacts to decoded scanner lines. It is not safe for concurrent
// use; every method must run on the fingerprint role's dispatch loop.
type Machine struct {
	clock   dispatch.Clock
	dev     Commander
	decider Decider
	users   store.UserDirectory
	pub     events.Publisher
	logger  zerolog.Logger
	cfg     Config

	pending   *types.EnrollProfile
	deadline  dispatch.Timer
	slotTimer dispatch.Timer
	session   uint64
	stage     types.Stage
	message   string

	lastID         int
	lastIDAt       time.Time
	seenID         bool
	lastNotFoundAt time.Time
	seenNotFound   bool
}

func NewMachine(cfg Config, clock dispatch.Clock, dev Commander, decider Decider, users store.UserDirectory, pub events.Publisher, logger zerolog.Logger) *Machine {
	if cfg.MaxSlot <= 0 {
		cfg.MaxSlot = DefaultMaxSlot
	}
	if cfg.EnrollTimeout <= 0 {
		cfg.EnrollTimeout = DefaultEnrollTimeout
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if pub == nil {
		pub = events.Discard{}
	}
	return &Machine{
		clock:   clock,
		dev:     dev,
		decider: decider,
		users:   users,
		pub:     pub,
		logger:  logger.With().Str("component", "fingerprint").Logger(),
		cfg:     cfg,
		stage:   types.StageInactive,
	}
}

// StartEnroll begins capturing a new print into profile.Slot. A session
// already in progress is abandoned.
func (m *Machine) StartEnroll(ctx context.Context, profile types.EnrollProfile) error {
	profile.Name = strings.TrimSpace(profile.Name)
	if profile.Name == "" {
		return ErrNameRequired
	}
	if profile.Slot < 1 || profile.Slot > m.cfg.MaxSlot {
		return fmt.Errorf("%w: %d not in 1..%d", ErrInvalidSlot, profile.Slot, m.cfg.MaxSlot)
	}
	used, err := m.usedSlots(ctx)
	if err != nil {
		return err
	}
	if _, taken := used[profile.Slot]; taken {
		return fmt.Errorf("%w: %d", ErrSlotInUse, profile.Slot)
	}

	m.endSession()
	session := m.session
	p := profile
	m.pending = &p

	m.dev.WriteLine("r")
	m.slotTimer = m.clock.AfterFunc(slotDelay, func() {
		if session != m.session || m.pending == nil {
			return
		}
		m.slotTimer = nil
		m.dev.WriteLine(strconv.Itoa(m.pending.Slot))
	})
	m.deadline = m.clock.AfterFunc(m.cfg.EnrollTimeout, func() {
		if session != m.session {
			return
		}
		m.timeout()
	})

	m.logger.Info().Str("name", p.Name).Int("slot", p.Slot).Msg("enrollment started")
	m.setStage(types.StageCapturing, fmt.Sprintf("Place finger on the sensor for slot %d", p.Slot))
	return nil
}

// HandleLine decodes and acts on one scanner line.
func (m *Machine) HandleLine(ctx context.Context, line string) {
	ev := Decode(line)
	if ev.Kind != EventRaw {
		m.logger.Debug().Str("event", ev.Kind.String()).Int("slot", ev.Slot).Msg("decoded")
	}

	switch ev.Kind {
	case EventRaw:
		if ev.Raw != "" {
			m.pub.Publish(events.Event{Type: events.TypeRaw, Role: types.RoleFingerprintReader, Raw: ev.Raw, At: m.clock.Now()})
		}
	case EventIdle, EventEnrollConfirm:
	case EventRecognized:
		m.recognized(ctx, ev.Slot)
	case EventNotFound:
		m.notFound(ctx, ev.Raw)
	case EventFirstPress:
		m.progress(types.StageFirstPress, fmt.Sprintf("Place finger for slot %d", ev.Slot))
	case EventFirstLift:
		m.progress(types.StageFirstLift, "Lift finger and place it again")
	case EventSecondPress:
		m.progress(types.StageSecondPress, fmt.Sprintf("Lift finger, wait, then place the same finger for slot %d", ev.Slot))
	case EventEnrollSucceeded:
		m.succeeded(ctx, ev.Slot)
	case EventEnrollFailed:
		m.failed(ev.Slot)
	}
}

// LinkLost abandons a session whose capture was running on the device.
func (m *Machine) LinkLost() {
	if m.pending == nil {
		return
	}
	m.endSession()
	m.setStage(types.StageFailed, "Scanner disconnected, enrollment cancelled")
}

func (m *Machine) Status() types.EnrollmentStatus {
	st := types.EnrollmentStatus{Kind: types.KindFingerprint, Stage: m.stage, Message: m.message}
	if m.pending != nil {
		c := types.FingerprintCredential(m.pending.Slot)
		st.PendingCredential = &c
	}
	return st
}

// AvailableSlots returns the slots not held by an active user.
func (m *Machine) AvailableSlots(ctx context.Context) ([]int, error) {
	used, err := m.usedSlots(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, m.cfg.MaxSlot)
	for s := 1; s <= m.cfg.MaxSlot; s++ {
		if _, taken := used[s]; !taken {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Machine) usedSlots(ctx context.Context) (map[int]struct{}, error) {
	ids, err := m.users.ListExternalIDs(ctx, types.KindFingerprint)
	if err != nil {
		return nil, fmt.Errorf("list fingerprint slots: %w", err)
	}
	used := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if n, err := strconv.Atoi(id); err == nil {
			used[n] = struct{}{}
		}
	}
	return used, nil
}

func (m *Machine) recognized(ctx context.Context, id int) {
	now := m.clock.Now()
	if m.seenID && id == m.lastID && now.Sub(m.lastIDAt) < m.cfg.Cooldown {
		return
	}
	m.seenID, m.lastID, m.lastIDAt = true, id, now

	if m.pending != nil {
		m.logger.Debug().Int("id", id).Msg("match ignored during enrollment")
		return
	}
	m.decider.Decide(ctx, types.FingerprintCredential(id))
}

func (m *Machine) notFound(ctx context.Context, raw string) {
	now := m.clock.Now()
	if m.seenNotFound && now.Sub(m.lastNotFoundAt) < m.cfg.Cooldown {
		return
	}
	m.seenNotFound, m.lastNotFoundAt = true, now

	if m.pending != nil {
		return
	}
	m.decider.DecideUnrecognized(ctx, types.KindFingerprint, "not_found")
}

func (m *Machine) progress(stage types.Stage, msg string) {
	if m.pending == nil {
		return
	}
	m.setStage(stage, msg)
}

// succeeded is honoured only for the slot of the pending profile; a late
// echo from an abandoned session changes nothing.
func (m *Machine) succeeded(ctx context.Context, slot int) {
	if m.pending == nil || m.pending.Slot != slot {
		m.logger.Debug().Int("slot", slot).Msg("ignoring enroll success for unexpected slot")
		return
	}
	p := *m.pending
	m.endSession()

	u, err := m.users.CreateUser(ctx, types.NewUser{
		Name:       p.Name,
		Kind:       types.KindFingerprint,
		ExternalID: strconv.Itoa(slot),
		Active:     true,
	})
	if err != nil {
		var dup *store.DuplicateUserError
		if errors.As(err, &dup) {
			m.logger.Warn().Int("slot", slot).Str("owner", dup.Existing.Name).Msg("slot taken at save time")
			m.setStage(types.StageFailed, fmt.Sprintf("Slot %d already belongs to %s", slot, dup.Existing.Name))
			return
		}
		m.logger.Error().Err(err).Int("slot", slot).Msg("save enrolled user failed")
		m.setStage(types.StageFailed, "Could not save the new user")
		return
	}

	m.logger.Info().Int64("user_id", u.ID).Str("name", u.Name).Int("slot", slot).Msg("enrollment succeeded")
	m.setStage(types.StageSucceeded, fmt.Sprintf("Enrolled slot %d for %s", slot, u.Name))
}

func (m *Machine) failed(slot int) {
	m.endSession()
	m.logger.Info().Int("slot", slot).Msg("enrollment failed on device")
	m.setStage(types.StageFailed, fmt.Sprintf("Enrollment failed for slot %d", slot))
}

func (m *Machine) timeout() {
	m.logger.Warn().Msg("enrollment timed out, cancelling capture")
	m.dev.WriteLine("c")
	m.endSession()
	m.setStage(types.StageTimedOut, "Time is up, enrollment cancelled")
}

func (m *Machine) endSession() {
	if m.deadline != nil {
		m.deadline.Stop()
		m.deadline = nil
	}
	if m.slotTimer != nil {
		m.slotTimer.Stop()
		m.slotTimer = nil
	}
	m.pending = nil
	m.session++
}

func (m *Machine) setStage(stage types.Stage, msg string) {
	m.stage, m.message = stage, msg
	st := m.Status()
	m.pub.Publish(events.Event{
		Type:       events.TypeEnrollment,
		Role:       types.RoleFingerprintReader,
		Enrollment: &st,
		Message:    msg,
		At:         m.clock.Now(),
	})
}

// UsedSlots returns the slots held by active users, ascending.
func (m *Machine) UsedSlots(ctx context.Context) ([]int, error) {
	used, err := m.usedSlots(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(used))
	for s := range used {
		out = append(out, s)
	}
	slices.Sort(out)
	return out, nil
}
