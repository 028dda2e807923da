package service_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/station/internal/station/alarm"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/fingerprint"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/rfid"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/serialport"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/service"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/store/memory"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/types"
)

// ═══════════════════════════════════════════════════════════════════════
// Hardware fakes
// ═══════════════════════════════════════════════════════════════════════

type staticEnumerator []types.PortInfo

func (e staticEnumerator) ListPorts(context.Context) ([]types.PortInfo, error) { return e, nil }

type pipePort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu  sync.Mutex
	out bytes.Buffer
}

func newPipePort() *pipePort {
	r, w := io.Pipe()
	return &pipePort{r: r, w: w}
}

func (p *pipePort) Read(b []byte) (int, error) { return p.r.Read(b) }
func (p *pipePort) Close() error               { return p.r.Close() }

func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

func (p *pipePort) written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

type fakeKeys struct{ ch chan rfid.Key }

func (f *fakeKeys) Run(ctx context.Context, keys func(rfid.Key), _ func()) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case k := <-f.ch:
			keys(k)
		}
	}
}

func (f *fakeKeys) Status() types.LinkStatus {
	return types.LinkStatus{Role: types.RoleRFIDReader, State: types.LinkConnected, Path: "/dev/input/event3"}
}

func (f *fakeKeys) tap(card string) {
	for _, r := range card {
		f.ch <- rfid.Key{Name: string(r)}
	}
	f.ch <- rfid.Key{Name: rfid.KeyEnter}
}

type rig struct {
	st    *service.Station
	users *memory.UserDirectory
	logs  *memory.AccessLogStore
	keys  *fakeKeys
	fp    *pipePort
	relay *pipePort
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		users: memory.NewUserDirectory(
			types.NewUser{Name: "Rina", Kind: types.KindRFID, ExternalID: "ABC123", Active: true},
			types.NewUser{Name: "Sari", Kind: types.KindFingerprint, ExternalID: "5", Active: true},
		),
		logs:  memory.NewAccessLogStore(),
		keys:  &fakeKeys{ch: make(chan rfid.Key, 64)},
		fp:    newPipePort(),
		relay: newPipePort(),
	}
	ports := map[string]*pipePort{"/dev/ttyACM0": r.fp, "/dev/ttyUSB0": r.relay}

	r.st = service.New(service.Config{}, service.Deps{
		Users:    r.users,
		Audit:    r.logs,
		Bindings: memory.NewBindingStore(),
		SerialPorts: staticEnumerator{
			{Path: "/dev/ttyS0"},
			{Path: "/dev/ttyACM0", VendorID: "2341", ProductID: "0043", Manufacturer: "Arduino"},
			{Path: "/dev/ttyUSB0", VendorID: "1A86", ProductID: "7523"},
		},
		InputDevices: staticEnumerator{
			{Path: "/dev/input/event3", VendorID: "ffff", ProductID: "0035", Manufacturer: "HID Reader"},
		},
		OpenSerial: func(path string, _ int) (io.ReadWriteCloser, error) {
			if p, ok := ports[path]; ok {
				return p, nil
			}
			return nil, fmt.Errorf("open %s: no such device", path)
		},
		Keys:   r.keys,
		Logger: zerolog.Nop(),
	})
	t.Cleanup(func() { _ = r.st.Close(context.Background()) })
	return r
}

func (r *rig) bindAndStart(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for role, path := range map[types.Role]string{
		types.RoleRFIDReader:        "/dev/input/event3",
		types.RoleFingerprintReader: "/dev/ttyACM0",
		types.RoleRelay:             "/dev/ttyUSB0",
	} {
		if _, err := r.st.BindDevice(ctx, role, path); err != nil {
			t.Fatalf("BindDevice %s: %v", role, err)
		}
	}
	r.st.Start(ctx)
	eventually(t, "serial links connected", func() bool {
		for _, l := range r.st.Links() {
			if l.State != types.LinkConnected {
				return false
			}
		}
		return true
	})
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ═══════════════════════════════════════════════════════════════════════
// End to end
// ═══════════════════════════════════════════════════════════════════════

func TestStation_CardTapGrantsAndAudits(t *testing.T) {
	r := newRig(t)
	r.bindAndStart(t)

	r.keys.tap("ABC123")

	eventually(t, "success feedback", func() bool { return r.relay.written() == "1" })
	eventually(t, "audit row", func() bool { return len(r.logs.Logs()) == 1 })
	if l := r.logs.Logs()[0]; !l.Success || l.Kind != types.KindRFID || l.DataRaw != "ABC123" {
		t.Errorf("unexpected log %+v", l)
	}
}

func TestStation_UnknownFingerprintRefused(t *testing.T) {
	r := newRig(t)
	r.bindAndStart(t)

	if _, err := r.fp.w.Write([]byte("9\r\n")); err != nil {
		t.Fatalf("feed: %v", err)
	}

	eventually(t, "failure feedback", func() bool { return r.relay.written() == "2" })
	eventually(t, "audit row", func() bool { return len(r.logs.Logs()) == 1 })
	if l := r.logs.Logs()[0]; l.Success || l.Kind != types.KindFingerprint || l.DataRaw != "9" {
		t.Errorf("unexpected log %+v", l)
	}
}

func TestStation_AlarmClosesLastVisit(t *testing.T) {
	r := newRig(t)
	r.bindAndStart(t)

	r.keys.tap("ABC123")
	eventually(t, "audit row", func() bool { return len(r.logs.Logs()) == 1 })

	if _, err := r.relay.w.Write([]byte("1\r\n1\r\n")); err != nil {
		t.Fatalf("feed: %v", err)
	}
	eventually(t, "closed visit", func() bool {
		logs := r.logs.Logs()
		return len(logs) == 1 && logs[0].OutTime != nil
	})
}

func TestStation_FingerprintEnrollment(t *testing.T) {
	r := newRig(t)
	r.bindAndStart(t)
	ctx := context.Background()

	err := r.st.StartEnroll(ctx, types.KindFingerprint, types.EnrollProfile{Name: "Dewi", Slot: 5})
	if !errors.Is(err, fingerprint.ErrSlotInUse) {
		t.Fatalf("expected ErrSlotInUse, got %v", err)
	}

	if err := r.st.StartEnroll(ctx, types.KindFingerprint, types.EnrollProfile{Name: "Dewi", Slot: 6}); err != nil {
		t.Fatalf("StartEnroll: %v", err)
	}
	eventually(t, "capture and slot commands", func() bool { return r.fp.written() == "r\n6\n" })

	if _, err := r.fp.w.Write([]byte("y6\r\nu6\r\nh6\r\ni6\r\n")); err != nil {
		t.Fatalf("feed: %v", err)
	}
	eventually(t, "enrollment success", func() bool {
		st, err := r.st.EnrollmentStatus(ctx, types.KindFingerprint)
		return err == nil && st.Stage == types.StageSucceeded
	})

	cat, err := r.st.AvailableSlots(ctx)
	if err != nil {
		t.Fatalf("AvailableSlots: %v", err)
	}
	if len(cat.Used) != 2 || cat.Used[0] != 5 || cat.Used[1] != 6 {
		t.Errorf("unexpected used slots %v", cat.Used)
	}
	if len(cat.Available) != fingerprint.DefaultMaxSlot-2 {
		t.Errorf("unexpected available count %d", len(cat.Available))
	}

	if _, err := r.st.SubmitEnroll(ctx, types.KindFingerprint, "Dewi"); !errors.Is(err, service.ErrNoCandidate) {
		t.Errorf("expected ErrNoCandidate for fingerprint submit, got %v", err)
	}
}

func TestStation_CardEnrollment(t *testing.T) {
	r := newRig(t)
	r.bindAndStart(t)
	ctx := context.Background()

	if err := r.st.StartEnroll(ctx, types.KindRFID, types.EnrollProfile{}); err != nil {
		t.Fatalf("StartEnroll: %v", err)
	}
	r.keys.tap("NEW0001")
	r.keys.tap("NEW0001")
	eventually(t, "candidate ready", func() bool {
		st, _ := r.st.EnrollmentStatus(ctx, types.KindRFID)
		return st.Stage == types.StageReady
	})

	cred, err := r.st.SubmitEnroll(ctx, types.KindRFID, "Bayu")
	if err != nil {
		t.Fatalf("SubmitEnroll: %v", err)
	}
	if cred != types.RFIDCredential("NEW0001") {
		t.Errorf("unexpected credential %v", cred)
	}
	if u, _ := r.users.FindUser(ctx, types.KindRFID, "NEW0001"); u == nil || u.Name != "Bayu" {
		t.Errorf("expected Bayu registered, got %+v", u)
	}
	if len(r.logs.Logs()) != 0 {
		t.Error("enrollment taps must not be audited as access attempts")
	}
}

// ═══════════════════════════════════════════════════════════════════════
// Facade errors
// ═══════════════════════════════════════════════════════════════════════

func TestStation_BindUnknownPath(t *testing.T) {
	r := newRig(t)

	_, err := r.st.BindDevice(context.Background(), types.RoleRelay, "/dev/ttyS0")
	if !errors.Is(err, serialport.ErrPortNotFound) {
		t.Errorf("expected ErrPortNotFound, got %v", err)
	}
	_, err = r.st.BindDevice(context.Background(), types.Role("door"), "/dev/ttyUSB0")
	if !errors.Is(err, service.ErrUnknownRole) {
		t.Errorf("expected ErrUnknownRole, got %v", err)
	}
}

func TestStation_ListPortsNormalises(t *testing.T) {
	r := newRig(t)

	ports, err := r.st.ListPorts(context.Background())
	if err != nil {
		t.Fatalf("ListPorts: %v", err)
	}
	if len(ports) != 2 {
		t.Fatalf("expected built-in port filtered, got %+v", ports)
	}
	if ports[1].VendorID != "1a86" {
		t.Errorf("expected lowercase vendor id, got %q", ports[1].VendorID)
	}
}

func TestStation_RelayCommandValidation(t *testing.T) {
	r := newRig(t)
	r.bindAndStart(t)

	if err := r.st.SendRelayCommand("4"); !errors.Is(err, alarm.ErrInvalidCommand) {
		t.Errorf("expected ErrInvalidCommand, got %v", err)
	}
	if err := r.st.SendRelayCommand("3"); err != nil {
		t.Fatalf("SendRelayCommand: %v", err)
	}
	if got := r.relay.written(); !strings.HasSuffix(got, "3") {
		t.Errorf("expected relay to receive 3, got %q", got)
	}
}

func TestStation_UnknownKind(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	if err := r.st.StartEnroll(ctx, types.Kind("iris"), types.EnrollProfile{}); !errors.Is(err, service.ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := r.st.EnrollmentStatus(ctx, types.Kind("iris")); !errors.Is(err, service.ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}
