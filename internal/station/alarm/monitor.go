// Package alarm watches the relay board's input line and sends it relay
// commands.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/station/internal/dispatch"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/events"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/store"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/types"
)

// Relay command codes. 1 and 2 are the access feedback signals; 0 and 3
// drive the relay directly.
const (
	CodeRelayOff = "0"
	CodeSuccess  = "1"
	CodeFailure  = "2"
	CodeRelayOn  = "3"
)

var ErrInvalidCommand = errors.New("invalid relay command")

// Sender writes raw bytes to the relay board.
type Sender interface {
	Send(data []byte)
}

// Monitor turns the level-based input line into edge events. HandleLine and
// Reset must run on the relay role's dispatch loop; SendCommand and
// Feedback are safe from any goroutine.
type Monitor struct {
	clock  dispatch.Clock
	relay  Sender
	audit  store.AuditSink
	pub    events.Publisher
	logger zerolog.Logger

	triggered bool
}

func NewMonitor(clock dispatch.Clock, relay Sender, audit store.AuditSink, pub events.Publisher, logger zerolog.Logger) *Monitor {
	if pub == nil {
		pub = events.Discard{}
	}
	return &Monitor{
		clock:  clock,
		relay:  relay,
		audit:  audit,
		pub:    pub,
		logger: logger.With().Str("component", "alarm").Logger(),
	}
}

func (m *Monitor) HandleLine(ctx context.Context, line string) {
	data := strings.TrimSpace(line)
	switch data {
	case "1":
		if !m.triggered {
			m.triggered = true
			m.fire(ctx)
		}
	case "0":
		m.triggered = false
	}
	m.pub.Publish(events.Event{Type: events.TypeRaw, Role: types.RoleRelay, Raw: data, At: m.clock.Now()})
}

// Reset clears the trigger flag; the line state is unknown once the
// connection drops.
func (m *Monitor) Reset() { m.triggered = false }

func (m *Monitor) Triggered() bool { return m.triggered }

// fire closes the most recent open successful access, treating a forced
// door as the end of that visit.
func (m *Monitor) fire(ctx context.Context) {
	now := m.clock.Now()
	m.logger.Warn().Msg("input triggered")
	m.pub.Publish(events.Event{
		Type:    events.TypeInputTrigger,
		Role:    types.RoleRelay,
		Message: "Door opened by force",
		At:      now,
	})

	closed, err := m.audit.CloseOpenSuccessLog(ctx, now)
	if err != nil {
		m.logger.Error().Err(err).Msg("close open access log failed")
		return
	}
	m.logger.Info().Bool("closed", closed).Msg("access log closure on trigger")
}

// SendCommand validates code and writes it without a line terminator.
func (m *Monitor) SendCommand(code string) error {
	switch code {
	case CodeRelayOff, CodeSuccess, CodeFailure, CodeRelayOn:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCommand, code)
	}
	m.relay.Send([]byte(code))
	m.logger.Debug().Str("code", code).Msg("relay command sent")
	return nil
}

// Feedback signals the outcome of an access decision.
func (m *Monitor) Feedback(success bool) {
	code := CodeFailure
	if success {
		code = CodeSuccess
	}
	_ = m.SendCommand(code)
}
