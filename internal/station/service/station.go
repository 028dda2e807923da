package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/station/internal/dispatch"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/alarm"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/events"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/fingerprint"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/link"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/rfid"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/serialport"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/store"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/types"
)

const opTimeout = 5 * time.Second

var (
	ErrUnknownKind = errors.New("unknown credential kind")
	ErrUnknownRole = errors.New("unknown device role")
	// ErrNoCandidate is also returned for fingerprint submits: that flow
	// registers the user itself once the scanner reports success.
	ErrNoCandidate = rfid.ErrNoCandidate
)

// KeySource is a key event feed that also reports its connection state.
type KeySource interface {
	rfid.KeySource
	Status() types.LinkStatus
}

type Config struct {
	BaudRate      int
	RetryInterval time.Duration
	FPMaxSlot     int
	RFIDGrab      bool
}

// Deps are the collaborators a Station is assembled from. Nil hardware
// fields get the real implementations.
type Deps struct {
	Users    store.UserDirectory
	Audit    store.AuditSink
	Bindings store.BindingStore

	SerialPorts  serialport.Enumerator
	InputDevices serialport.Enumerator
	OpenSerial   link.Opener
	Keys         KeySource

	// Clock drives every loop; nil uses the system clock.
	Clock  dispatch.Clock
	Bus    *events.Bus
	Logger zerolog.Logger
}

// Station is the surface the control API and dashboard talk to. Each
// device role runs on its own dispatch loop; Station methods hop onto the
// right loop and wait for the answer.
type Station struct {
	logger zerolog.Logger
	bus    *events.Bus

	ports  *serialport.Resolver
	inputs *serialport.Resolver

	fpLoop, rfidLoop, relayLoop *dispatch.Loop

	fpLink    *link.Link
	relayLink *link.Link
	keys      KeySource

	fp     *fingerprint.Machine
	cards  *rfid.Machine
	alarm  *alarm.Monitor
	access *AccessService

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, d Deps) *Station {
	if d.Bus == nil {
		d.Bus = events.NewBus()
	}
	if d.SerialPorts == nil {
		d.SerialPorts = serialport.USBEnumerator{}
	}
	if d.InputDevices == nil {
		d.InputDevices = rfid.InputEnumerator{}
	}
	if d.OpenSerial == nil {
		d.OpenSerial = link.SerialOpener
	}
	logger := d.Logger

	s := &Station{
		logger:    logger.With().Str("component", "station").Logger(),
		bus:       d.Bus,
		ports:     serialport.NewResolver(d.Bindings, d.SerialPorts, logger),
		inputs:    serialport.NewResolver(d.Bindings, d.InputDevices, logger),
		fpLoop:    dispatch.NewLoop(d.Clock, logger.With().Str("loop", string(types.RoleFingerprintReader)).Logger()),
		rfidLoop:  dispatch.NewLoop(d.Clock, logger.With().Str("loop", string(types.RoleRFIDReader)).Logger()),
		relayLoop: dispatch.NewLoop(d.Clock, logger.With().Str("loop", string(types.RoleRelay)).Logger()),
	}

	linkCfg := func(role types.Role) link.Config {
		return link.Config{Role: role, BaudRate: cfg.BaudRate, RetryInterval: cfg.RetryInterval}
	}
	s.fpLink = link.New(linkCfg(types.RoleFingerprintReader), s.fpLoop, s.ports, d.OpenSerial, d.Bus, logger)
	s.relayLink = link.New(linkCfg(types.RoleRelay), s.relayLoop, s.ports, d.OpenSerial, d.Bus, logger)

	s.alarm = alarm.NewMonitor(s.relayLoop, s.relayLink, d.Audit, d.Bus, logger)
	s.access = NewAccessService(d.Users, d.Audit, s.alarm, d.Bus, logger)
	s.fp = fingerprint.NewMachine(fingerprint.Config{MaxSlot: cfg.FPMaxSlot}, s.fpLoop, s.fpLink, s.access, d.Users, d.Bus, logger)
	s.cards = rfid.NewMachine(rfid.Config{}, s.rfidLoop, s.access, d.Users, d.Bus, logger)

	s.keys = d.Keys
	if s.keys == nil {
		s.keys = rfid.NewEvdevSource(rfid.SourceConfig{Grab: cfg.RFIDGrab, RetryInterval: cfg.RetryInterval}, s.inputs, d.Bus, logger)
	}

	s.fpLink.OnLine(func(line string) {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		s.fp.HandleLine(ctx, line)
	})
	s.fpLink.OnDisconnect(s.fp.LinkLost)
	s.relayLink.OnLine(func(line string) {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		s.alarm.HandleLine(ctx, line)
	})
	s.relayLink.OnDisconnect(s.alarm.Reset)

	return s
}

// Start connects every device. Links keep retrying in the background
// until Close.
func (s *Station) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.fpLink.Connect()
	s.relayLink.Connect()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.keys.Run(ctx,
			func(k rfid.Key) { s.rfidLoop.Post(func() { s.cards.HandleKey(k) }) },
			func() { s.rfidLoop.Post(s.cards.SourceLost) },
		)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn().Err(err).Msg("key source stopped")
		}
	}()
	s.logger.Info().Msg("station started")
}

// Close stops the key source, drops both serial links and drains the loops.
func (s *Station) Close(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	err := errors.Join(s.fpLink.Close(ctx), s.relayLink.Close(ctx))
	s.fpLoop.Close()
	s.rfidLoop.Close()
	s.relayLoop.Close()
	return err
}

func (s *Station) Events() *events.Bus { return s.bus }

// ── Devices ─────────────────────────────────────────────────────────────

func (s *Station) ListPorts(ctx context.Context) ([]types.PortInfo, error) {
	return s.ports.ListPorts(ctx)
}

func (s *Station) ListInputDevices(ctx context.Context) ([]types.PortInfo, error) {
	return s.inputs.ListPorts(ctx)
}

// BindDevice stores the identifiers of the device at path for role and
// kicks the role's link so it picks the device up.
func (s *Station) BindDevice(ctx context.Context, role types.Role, path string) (types.DeviceBinding, error) {
	switch role {
	case types.RoleRFIDReader:
		return s.inputs.Bind(ctx, role, path)
	case types.RoleFingerprintReader, types.RoleRelay:
		b, err := s.ports.Bind(ctx, role, path)
		if err != nil {
			return types.DeviceBinding{}, err
		}
		s.linkFor(role).Connect()
		return b, nil
	}
	return types.DeviceBinding{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
}

// Links reports every role's connection state in a stable order.
func (s *Station) Links() []types.LinkStatus {
	return []types.LinkStatus{
		s.keys.Status(),
		s.fpLink.Status(),
		s.relayLink.Status(),
	}
}

func (s *Station) SendRelayCommand(code string) error {
	return s.alarm.SendCommand(code)
}

func (s *Station) linkFor(role types.Role) *link.Link {
	if role == types.RoleRelay {
		return s.relayLink
	}
	return s.fpLink
}

// ── Enrollment ──────────────────────────────────────────────────────────

func (s *Station) StartEnroll(ctx context.Context, kind types.Kind, profile types.EnrollProfile) error {
	switch kind {
	case types.KindRFID:
		return s.rfidLoop.Do(ctx, s.cards.StartEnroll)
	case types.KindFingerprint:
		var err error
		if doErr := s.fpLoop.Do(ctx, func() { err = s.fp.StartEnroll(ctx, profile) }); doErr != nil {
			return doErr
		}
		return err
	}
	return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func (s *Station) SubmitEnroll(ctx context.Context, kind types.Kind, name string) (types.Credential, error) {
	switch kind {
	case types.KindRFID:
		var (
			cred types.Credential
			err  error
		)
		if doErr := s.rfidLoop.Do(ctx, func() { cred, err = s.cards.Submit(ctx, name) }); doErr != nil {
			return types.Credential{}, doErr
		}
		return cred, err
	case types.KindFingerprint:
		return types.Credential{}, ErrNoCandidate
	}
	return types.Credential{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func (s *Station) EnrollmentStatus(ctx context.Context, kind types.Kind) (types.EnrollmentStatus, error) {
	var st types.EnrollmentStatus
	var err error
	switch kind {
	case types.KindRFID:
		err = s.rfidLoop.Do(ctx, func() { st = s.cards.Status() })
	case types.KindFingerprint:
		err = s.fpLoop.Do(ctx, func() { st = s.fp.Status() })
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return st, err
}

// SlotCatalogue lists free and taken fingerprint slots.
type SlotCatalogue struct {
	Available []int `json:"available"`
	Used      []int `json:"used"`
}

func (s *Station) AvailableSlots(ctx context.Context) (SlotCatalogue, error) {
	var (
		cat SlotCatalogue
		err error
	)
	doErr := s.fpLoop.Do(ctx, func() {
		if cat.Available, err = s.fp.AvailableSlots(ctx); err != nil {
			return
		}
		cat.Used, err = s.fp.UsedSlots(ctx)
	})
	if doErr != nil {
		return SlotCatalogue{}, doErr
	}
	return cat, err
}
