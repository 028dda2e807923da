// Package link keeps one serial connection per device role alive across
// unplug and USB re-enumeration.
package link

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/station/internal/dispatch"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/events"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/types"
)

const (
	DefaultBaudRate      = 9600
	DefaultRetryInterval = 5 * time.Second
	resolveTimeout       = 5 * time.Second
)

// Resolver finds the current path of a role's bound device.
type Resolver interface {
	Resolve(ctx context.Context, role types.Role) (path string, ok bool, err error)
}

// Opener opens a serial path at a baud rate.
type Opener func(path string, baud int) (io.ReadWriteCloser, error)

type Config struct {
	Role          types.Role
	BaudRate      int
	RetryInterval time.Duration
}

// Link owns the connection for one role. All state transitions run on the
// role's dispatch loop; Status and Send may be called from anywhere.
type Link struct {
	role     types.Role
	baud     int
	interval time.Duration

	loop     *dispatch.Loop
	resolver Resolver
	open     Opener
	pub      events.Publisher
	logger   zerolog.Logger

	onLine       []func(line string)
	onDisconnect []func()

	// loop-owned
	gen      uint64
	retry    dispatch.Timer
	retrySeq uint64
	closed   bool

	mu    sync.Mutex
	state types.LinkState
	path  string
	port  io.ReadWriteCloser
}

func New(cfg Config, loop *dispatch.Loop, resolver Resolver, open Opener, pub events.Publisher, logger zerolog.Logger) *Link {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if pub == nil {
		pub = events.Discard{}
	}
	return &Link{
		role:     cfg.Role,
		baud:     cfg.BaudRate,
		interval: cfg.RetryInterval,
		loop:     loop,
		resolver: resolver,
		open:     open,
		pub:      pub,
		logger:   logger.With().Str("component", "link").Str("role", string(cfg.Role)).Logger(),
	}
}

// OnLine registers a handler for complete inbound lines. Handlers run on
// the link's loop, in arrival order. Register before the first Connect.
func (l *Link) OnLine(fn func(line string)) { l.onLine = append(l.onLine, fn) }

// OnDisconnect registers a hook run on the loop whenever an open
// connection is lost, so connection-scoped state can be cleared.
func (l *Link) OnDisconnect(fn func()) { l.onDisconnect = append(l.onDisconnect, fn) }

func (l *Link) Role() types.Role { return l.role }

// Connect asks the link to (re)establish its connection. It returns
// immediately; the attempt runs on the loop.
func (l *Link) Connect() {
	l.loop.Post(l.connect)
}

// Status returns a snapshot of the link.
func (l *Link) Status() types.LinkStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return types.LinkStatus{Role: l.role, State: l.state, Path: l.path}
}

// Send writes data to the open connection. When the link is not connected
// the write is dropped with a warning; callers never see an error.
func (l *Link) Send(data []byte) {
	l.mu.Lock()
	port, state := l.port, l.state
	l.mu.Unlock()

	if port == nil || state != types.LinkConnected {
		l.logger.Warn().Str("data", strings.TrimSpace(string(data))).Msg("send while not connected, dropped")
		return
	}
	if _, err := port.Write(data); err != nil {
		l.logger.Error().Err(err).Str("code", portErrorCode(err)).Msg("serial write failed")
		drop := func() { l.dropPort(port, err) }
		// Send may be running on the loop itself.
		if !l.loop.TryPost(drop) {
			go l.loop.Post(drop)
		}
	}
}

// WriteLine sends s followed by a newline.
func (l *Link) WriteLine(s string) { l.Send([]byte(s + "\n")) }

// Close tears the connection down and stops retrying.
func (l *Link) Close(ctx context.Context) error {
	return l.loop.Do(ctx, func() {
		l.closed = true
		l.stopRetry()
		l.mu.Lock()
		port := l.port
		l.mu.Unlock()
		if port == nil {
			l.setState(types.LinkDisconnected, "")
			return
		}
		l.setState(types.LinkClosing, l.Status().Path)
		l.gen++
		l.detach()
		l.setState(types.LinkDisconnected, "")
	})
}

func (l *Link) connect() {
	if l.closed || l.Status().State == types.LinkConnected {
		return
	}
	l.stopRetry()
	l.setState(types.LinkResolving, "")

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	path, ok, err := l.resolver.Resolve(ctx, l.role)
	cancel()
	if err != nil {
		l.logger.Warn().Err(err).Msg("resolve failed")
	}
	if !ok {
		l.logger.Warn().Dur("retry_in", l.interval).Msg("no matching device attached")
		l.setState(types.LinkDisconnected, "")
		l.scheduleRetry()
		return
	}

	l.setState(types.LinkConnecting, path)
	port, err := l.open(path, l.baud)
	if err != nil {
		l.logger.Error().Err(err).Str("path", path).Str("code", portErrorCode(err)).Msg("open failed")
		l.setState(types.LinkDisconnected, "")
		l.scheduleRetry()
		return
	}

	l.gen++
	gen := l.gen
	l.mu.Lock()
	l.port = port
	l.mu.Unlock()
	l.setState(types.LinkConnected, path)
	l.logger.Info().Str("path", path).Int("baud", l.baud).Msg("connected")

	go l.readLoop(gen, port)
}

// readLoop frames the byte stream into lines. A trailing partial line is
// never emitted.
func (l *Link) readLoop(gen uint64, port io.ReadWriteCloser) {
	r := bufio.NewReader(port)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			l.loop.Post(func() { l.lost(gen, err) })
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		l.loop.Post(func() { l.deliver(gen, line) })
	}
}

func (l *Link) deliver(gen uint64, line string) {
	if gen != l.gen {
		return
	}
	for _, fn := range l.onLine {
		fn(line)
	}
}

func (l *Link) dropPort(port io.ReadWriteCloser, err error) {
	l.mu.Lock()
	current := l.port
	l.mu.Unlock()
	if current != port {
		return
	}
	l.lost(l.gen, err)
}

func (l *Link) lost(gen uint64, err error) {
	if gen != l.gen {
		return
	}
	ev := l.logger.Error()
	if errors.Is(err, io.EOF) {
		ev = l.logger.Info()
	}
	ev.Err(err).Str("code", portErrorCode(err)).Msg("connection lost")

	l.gen++
	l.detach()
	l.setState(types.LinkDisconnected, "")
	for _, fn := range l.onDisconnect {
		fn()
	}
	if !l.closed {
		l.scheduleRetry()
	}
}

func (l *Link) detach() {
	l.mu.Lock()
	port := l.port
	l.port = nil
	l.mu.Unlock()
	if port != nil {
		_ = port.Close()
	}
}

// scheduleRetry arms the reconnect timer unless one is already pending.
func (l *Link) scheduleRetry() {
	if l.retry != nil || l.closed {
		return
	}
	l.retrySeq++
	seq := l.retrySeq
	l.retry = l.loop.AfterFunc(l.interval, func() {
		if seq != l.retrySeq {
			return
		}
		l.retry = nil
		l.connect()
	})
}

func (l *Link) stopRetry() {
	if l.retry == nil {
		return
	}
	l.retry.Stop()
	l.retry = nil
	l.retrySeq++
}

// RetryPending reports whether a reconnect timer is armed. It must run on
// the loop.
func (l *Link) RetryPending() bool { return l.retry != nil }

func (l *Link) setState(s types.LinkState, path string) {
	l.mu.Lock()
	changed := l.state != s || l.path != path
	l.state = s
	l.path = path
	l.mu.Unlock()
	if !changed {
		return
	}
	st := types.LinkStatus{Role: l.role, State: s, Path: path}
	l.pub.Publish(events.Event{Type: events.TypeLinkState, Role: l.role, Link: &st, At: l.loop.Now()})
}
