package fingerprint_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/station/internal/dispatch/dispatchtest"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/events"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/fingerprint"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/store/memory"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/types"
)

type fakeScanner struct{ lines []string }

func (f *fakeScanner) WriteLine(s string) { f.lines = append(f.lines, s) }

type fakeDecider struct {
	creds        []types.Credential
	unrecognized []string
}

func (f *fakeDecider) Decide(_ context.Context, c types.Credential) types.AccessAttempt {
	f.creds = append(f.creds, c)
	return types.AccessAttempt{Credential: c}
}

func (f *fakeDecider) DecideUnrecognized(_ context.Context, kind types.Kind, raw string) types.AccessAttempt {
	f.unrecognized = append(f.unrecognized, raw)
	return types.AccessAttempt{Credential: types.Credential{Kind: kind, ExternalID: raw}}
}

type fixture struct {
	clock   *dispatchtest.ManualClock
	scanner *fakeScanner
	decider *fakeDecider
	users   *memory.UserDirectory
	rec     *events.Recorder
	m       *fingerprint.Machine
}

func newFixture(seed ...types.NewUser) *fixture {
	f := &fixture{
		clock:   dispatchtest.NewManualClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		scanner: &fakeScanner{},
		decider: &fakeDecider{},
		users:   memory.NewUserDirectory(seed...),
		rec:     &events.Recorder{},
	}
	f.m = fingerprint.NewMachine(fingerprint.Config{}, f.clock, f.scanner, f.decider, f.users, f.rec, zerolog.Nop())
	return f
}

var ctx = context.Background()

// ═══════════════════════════════════════════════════════════════════════
// Decision path
// ═══════════════════════════════════════════════════════════════════════

func TestRecognized_RepeatWithinCooldownDecidedOnce(t *testing.T) {
	f := newFixture()

	f.m.HandleLine(ctx, "5")
	f.clock.Advance(time.Second)
	f.m.HandleLine(ctx, "5")
	f.clock.Advance(2 * time.Second)
	f.m.HandleLine(ctx, "5")

	if len(f.decider.creds) != 1 {
		t.Fatalf("expected one decision, got %d", len(f.decider.creds))
	}
	if f.decider.creds[0] != types.FingerprintCredential(5) {
		t.Errorf("unexpected credential %v", f.decider.creds[0])
	}
}

func TestRecognized_AfterCooldownDecidedAgain(t *testing.T) {
	f := newFixture()

	f.m.HandleLine(ctx, "5")
	f.clock.Advance(fingerprint.DefaultCooldown)
	f.m.HandleLine(ctx, "5")

	if len(f.decider.creds) != 2 {
		t.Fatalf("expected two decisions, got %d", len(f.decider.creds))
	}
}

func TestRecognized_DifferentIDNotSuppressed(t *testing.T) {
	f := newFixture()

	f.m.HandleLine(ctx, "5")
	f.m.HandleLine(ctx, "6")
	f.m.HandleLine(ctx, "5")

	if len(f.decider.creds) != 3 {
		t.Fatalf("expected three decisions, got %d", len(f.decider.creds))
	}
}

func TestNotFound_OwnCooldown(t *testing.T) {
	f := newFixture()

	f.m.HandleLine(ctx, "0")
	f.m.HandleLine(ctx, "5")
	f.m.HandleLine(ctx, "0")
	f.clock.Advance(fingerprint.DefaultCooldown)
	f.m.HandleLine(ctx, "0")

	if len(f.decider.unrecognized) != 2 {
		t.Errorf("expected two unrecognized decisions, got %d", len(f.decider.unrecognized))
	}
	if len(f.decider.creds) != 1 {
		t.Errorf("not_found must not reset the recognized path, got %d", len(f.decider.creds))
	}
}

func TestRawLinesPublishedNotActedOn(t *testing.T) {
	f := newFixture()

	f.m.HandleLine(ctx, "Waiting for valid finger...")
	f.m.HandleLine(ctx, "i")
	f.m.HandleLine(ctx, "t")

	if len(f.decider.creds)+len(f.decider.unrecognized) != 0 {
		t.Error("expected no decisions")
	}
	raw := f.rec.Events(events.TypeRaw)
	if len(raw) != 1 || raw[0].Raw != "Waiting for valid finger..." {
		t.Errorf("unexpected raw events %+v", raw)
	}
}

// ═══════════════════════════════════════════════════════════════════════
// Enrollment
// ═══════════════════════════════════════════════════════════════════════

func TestStartEnroll_SendsCaptureThenSlot(t *testing.T) {
	f := newFixture()

	if err := f.m.StartEnroll(ctx, types.EnrollProfile{Name: "Sari", Slot: 4}); err != nil {
		t.Fatalf("StartEnroll: %v", err)
	}
	if len(f.scanner.lines) != 1 || f.scanner.lines[0] != "r" {
		t.Fatalf("expected start-capture only, got %v", f.scanner.lines)
	}
	f.clock.Advance(500 * time.Millisecond)
	if len(f.scanner.lines) != 2 || f.scanner.lines[1] != "4" {
		t.Fatalf("expected slot after delay, got %v", f.scanner.lines)
	}

	st := f.m.Status()
	if st.Stage != types.StageCapturing || st.PendingCredential == nil || st.PendingCredential.ExternalID != "4" {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestStartEnroll_Validation(t *testing.T) {
	f := newFixture(types.NewUser{Name: "Budi", Kind: types.KindFingerprint, ExternalID: "3", Active: true})

	if err := f.m.StartEnroll(ctx, types.EnrollProfile{Name: " ", Slot: 1}); !errors.Is(err, fingerprint.ErrNameRequired) {
		t.Errorf("expected ErrNameRequired, got %v", err)
	}
	for _, slot := range []int{0, 64, -1} {
		if err := f.m.StartEnroll(ctx, types.EnrollProfile{Name: "A", Slot: slot}); !errors.Is(err, fingerprint.ErrInvalidSlot) {
			t.Errorf("slot %d: expected ErrInvalidSlot, got %v", slot, err)
		}
	}
	if err := f.m.StartEnroll(ctx, types.EnrollProfile{Name: "A", Slot: 3}); !errors.Is(err, fingerprint.ErrSlotInUse) {
		t.Errorf("expected ErrSlotInUse, got %v", err)
	}
	if len(f.scanner.lines) != 0 {
		t.Errorf("rejected starts must not talk to the device, got %v", f.scanner.lines)
	}
}

func TestEnroll_ProgressThenSuccessPersists(t *testing.T) {
	f := newFixture()
	_ = f.m.StartEnroll(ctx, types.EnrollProfile{Name: "Sari", Slot: 4})

	f.m.HandleLine(ctx, "y4")
	if got := f.m.Status().Stage; got != types.StageFirstPress {
		t.Errorf("expected first_press, got %s", got)
	}
	f.m.HandleLine(ctx, "u4")
	f.m.HandleLine(ctx, "h4")
	if got := f.m.Status().Stage; got != types.StageSecondPress {
		t.Errorf("expected second_press, got %s", got)
	}
	f.m.HandleLine(ctx, "i4")

	users := f.users.Users()
	if len(users) != 1 || users[0].Name != "Sari" || users[0].Kind != types.KindFingerprint || users[0].ExternalID != "4" || !users[0].Active {
		t.Fatalf("unexpected users %+v", users)
	}
	st := f.m.Status()
	if st.Stage != types.StageSucceeded || st.PendingCredential != nil {
		t.Errorf("unexpected status %+v", st)
	}
	if f.clock.Pending() != 0 {
		t.Errorf("expected deadline cleared, %d timers pending", f.clock.Pending())
	}
}

func TestEnroll_SuccessForOtherSlotIsNoop(t *testing.T) {
	f := newFixture()
	_ = f.m.StartEnroll(ctx, types.EnrollProfile{Name: "Sari", Slot: 4})
	f.clock.Advance(500 * time.Millisecond)
	before := f.m.Status()
	pending := f.clock.Pending()

	f.m.HandleLine(ctx, "i9")

	if len(f.users.Users()) != 0 {
		t.Fatal("expected no user created")
	}
	after := f.m.Status()
	if after.Stage != before.Stage || after.Message != before.Message || after.PendingCredential == nil {
		t.Errorf("state changed: before %+v after %+v", before, after)
	}
	if f.clock.Pending() != pending {
		t.Errorf("expected deadline untouched")
	}
}

func TestEnroll_SuccessWithoutSessionIsNoop(t *testing.T) {
	f := newFixture()
	f.m.HandleLine(ctx, "i4")

	if len(f.users.Users()) != 0 {
		t.Fatal("expected no user created")
	}
	if got := f.m.Status().Stage; got != types.StageInactive {
		t.Errorf("expected inactive, got %s", got)
	}
}

func TestEnroll_FailureClearsSession(t *testing.T) {
	f := newFixture()
	_ = f.m.StartEnroll(ctx, types.EnrollProfile{Name: "Sari", Slot: 4})

	f.m.HandleLine(ctx, "x7")

	st := f.m.Status()
	if st.Stage != types.StageFailed || st.PendingCredential != nil {
		t.Errorf("unexpected status %+v", st)
	}
	if f.clock.Pending() != 0 {
		t.Errorf("expected timers cleared, %d pending", f.clock.Pending())
	}

	// A late success for the abandoned slot changes nothing.
	f.m.HandleLine(ctx, "i4")
	if len(f.users.Users()) != 0 {
		t.Error("expected stale success ignored")
	}
}

func TestEnroll_DeadlineCancelsOnDevice(t *testing.T) {
	f := newFixture()
	_ = f.m.StartEnroll(ctx, types.EnrollProfile{Name: "Sari", Slot: 4})

	f.clock.Advance(fingerprint.DefaultEnrollTimeout)

	want := []string{"r", "4", "c"}
	if len(f.scanner.lines) != len(want) {
		t.Fatalf("expected %v, got %v", want, f.scanner.lines)
	}
	for i := range want {
		if f.scanner.lines[i] != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], f.scanner.lines[i])
		}
	}
	st := f.m.Status()
	if st.Stage != types.StageTimedOut || st.PendingCredential != nil {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestEnroll_RestartReplacesDeadline(t *testing.T) {
	f := newFixture()
	_ = f.m.StartEnroll(ctx, types.EnrollProfile{Name: "Sari", Slot: 4})
	f.clock.Advance(30 * time.Second)
	_ = f.m.StartEnroll(ctx, types.EnrollProfile{Name: "Dewi", Slot: 5})

	f.clock.Advance(31 * time.Second)
	if got := f.m.Status().Stage; got == types.StageTimedOut {
		t.Fatal("first session's deadline must not cancel the second")
	}
	f.clock.Advance(29 * time.Second)
	if got := f.m.Status().Stage; got != types.StageTimedOut {
		t.Errorf("expected second deadline to fire, got %s", got)
	}
}

func TestEnroll_MatchesIgnoredWhileCapturing(t *testing.T) {
	f := newFixture()
	_ = f.m.StartEnroll(ctx, types.EnrollProfile{Name: "Sari", Slot: 4})

	f.m.HandleLine(ctx, "12")
	f.m.HandleLine(ctx, "0")

	if len(f.decider.creds)+len(f.decider.unrecognized) != 0 {
		t.Error("expected no decisions during enrollment")
	}
}

func TestLinkLost_AbandonsSession(t *testing.T) {
	f := newFixture()
	_ = f.m.StartEnroll(ctx, types.EnrollProfile{Name: "Sari", Slot: 4})

	f.m.LinkLost()

	if st := f.m.Status(); st.Stage != types.StageFailed || st.PendingCredential != nil {
		t.Errorf("unexpected status %+v", st)
	}
	if f.clock.Pending() != 0 {
		t.Error("expected timers cleared")
	}
}

func TestAvailableSlots(t *testing.T) {
	f := newFixture(
		types.NewUser{Name: "A", Kind: types.KindFingerprint, ExternalID: "1", Active: true},
		types.NewUser{Name: "B", Kind: types.KindFingerprint, ExternalID: "3", Active: true},
		types.NewUser{Name: "C", Kind: types.KindRFID, ExternalID: "2", Active: true},
	)

	slots, err := f.m.AvailableSlots(ctx)
	if err != nil {
		t.Fatalf("AvailableSlots: %v", err)
	}
	if len(slots) != fingerprint.DefaultMaxSlot-2 {
		t.Fatalf("expected %d free slots, got %d", fingerprint.DefaultMaxSlot-2, len(slots))
	}
	if slots[0] != 2 || slots[1] != 4 {
		t.Errorf("unexpected head %v", slots[:2])
	}

	used, _ := f.m.UsedSlots(ctx)
	if len(used) != 2 || used[0] != 1 || used[1] != 3 {
		t.Errorf("unexpected used slots %v", used)
	}
}
