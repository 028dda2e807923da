//go:build linux

package rfid

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/holoplot/go-evdev"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/station/internal/station/events"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/types"
)

// InputEnumerator lists keyboard-capable input devices so a HID reader can
// be bound by vendor/product like a serial device.
type InputEnumerator struct{}

func (InputEnumerator) ListPorts(_ context.Context) ([]types.PortInfo, error) {
	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return nil, fmt.Errorf("list input devices: %w", err)
	}
	var out []types.PortInfo
	for _, p := range paths {
		d, err := evdev.Open(p.Path)
		if err != nil {
			continue
		}
		id, err := d.InputID()
		hasEnter := slices.Contains(d.CapableEvents(evdev.EV_KEY), evdev.KEY_ENTER)
		_ = d.Close()
		if err != nil || !hasEnter {
			continue
		}
		out = append(out, types.PortInfo{
			Path:         p.Path,
			VendorID:     fmt.Sprintf("%04x", id.Vendor),
			ProductID:    fmt.Sprintf("%04x", id.Product),
			Manufacturer: p.Name,
		})
	}
	return out, nil
}

// EvdevSource reads key events from the input device bound to the RFID
// role, reopening it after it disappears.
type EvdevSource struct {
	*linkTracker

	resolver Resolver
	cfg      SourceConfig
	logger   zerolog.Logger
}

func NewEvdevSource(cfg SourceConfig, resolver Resolver, pub events.Publisher, logger zerolog.Logger) *EvdevSource {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	return &EvdevSource{
		linkTracker: newTracker(pub),
		resolver:    resolver,
		cfg:         cfg,
		logger:      sourceLogger(logger),
	}
}

func (s *EvdevSource) Run(ctx context.Context, keys func(Key), lost func()) error {
	for {
		s.set(types.LinkResolving, "")
		path, ok, err := s.resolver.Resolve(ctx, types.RoleRFIDReader)
		if err != nil {
			s.logger.Warn().Err(err).Msg("resolve failed")
		}
		if ok {
			s.session(ctx, path, keys, lost)
		} else {
			s.logger.Warn().Dur("retry_in", s.cfg.RetryInterval).Msg("no matching input device attached")
		}
		s.set(types.LinkDisconnected, "")
		if !sleepCtx(ctx, s.cfg.RetryInterval) {
			return ctx.Err()
		}
	}
}

func (s *EvdevSource) session(ctx context.Context, path string, keys func(Key), lost func()) {
	s.set(types.LinkConnecting, path)
	dev, err := evdev.Open(path)
	if err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("open input device failed")
		return
	}
	if s.cfg.Grab {
		if err := dev.Grab(); err != nil {
			s.logger.Warn().Err(err).Msg("exclusive grab failed, continuing shared")
		}
	}
	s.set(types.LinkConnected, path)
	s.logger.Info().Str("path", path).Msg("connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = dev.Close()
		case <-done:
		}
	}()

	for {
		ev, err := dev.ReadOne()
		if err != nil {
			_ = dev.Close()
			if ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("input device lost")
				lost()
			}
			return
		}
		// value 1 is key-down; 0 up and 2 autorepeat are ignored.
		if ev.Type != evdev.EV_KEY || ev.Value != 1 {
			continue
		}
		if name := keyName(ev.Code); name != "" {
			keys(Key{Name: name})
		}
	}
}

func keyName(code evdev.EvCode) string {
	switch code {
	case evdev.KEY_ENTER, evdev.KEY_KPENTER:
		return KeyEnter
	}
	name := evdev.CodeName(evdev.EV_KEY, code)
	if !strings.HasPrefix(name, "KEY_") {
		return ""
	}
	name = strings.TrimPrefix(name, "KEY_")
	if len(name) == 3 && strings.HasPrefix(name, "KP") {
		name = name[2:]
	}
	return name
}
