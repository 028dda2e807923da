//go:build !linux

package rfid

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/station/internal/station/events"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/types"
)

// InputEnumerator needs evdev and only works on linux.
type InputEnumerator struct{}

func (InputEnumerator) ListPorts(context.Context) ([]types.PortInfo, error) {
	return nil, errors.ErrUnsupported
}

type EvdevSource struct {
	*linkTracker
	logger zerolog.Logger
}

func NewEvdevSource(_ SourceConfig, _ Resolver, pub events.Publisher, logger zerolog.Logger) *EvdevSource {
	return &EvdevSource{linkTracker: newTracker(pub), logger: sourceLogger(logger)}
}

// Run reports that no key source exists on this platform and waits for ctx.
func (s *EvdevSource) Run(ctx context.Context, _ func(Key), _ func()) error {
	s.logger.Warn().Msg("keyboard reader input is only supported on linux")
	<-ctx.Done()
	return ctx.Err()
}
