package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var ErrLoopClosed = errors.New("dispatch loop closed")

// QueueSize is how many jobs a Loop buffers before Post blocks.
const QueueSize = 256

// Loop runs posted jobs one at a time, in the order they were posted, on a
// single goroutine. Everything a device role owns (its link state, decoder
// buffers, enrollment session) is touched only from inside its Loop.
//
// Loop also implements Clock: callbacks scheduled through AfterFunc are
// delivered back onto the loop rather than run on the timer goroutine.
type Loop struct {
	clock  Clock
	logger zerolog.Logger

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	jobs      chan func()
	quit      chan struct{}
	done      chan struct{}
}

func NewLoop(clock Clock, logger zerolog.Logger) *Loop {
	if clock == nil {
		clock = SystemClock()
	}
	l := &Loop{
		clock:  clock,
		logger: logger,
		jobs:   make(chan func(), QueueSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Post enqueues fn. It reports false when the loop has been closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}
	select {
	case l.jobs <- fn:
		return true
	case <-l.quit:
		return false
	}
}

// TryPost enqueues fn only if the queue has room. Jobs that post back onto
// their own loop use it; a blocking Post there could wait on itself.
func (l *Loop) TryPost(fn func()) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}
	select {
	case l.jobs <- fn:
		return true
	default:
		return false
	}
}

// Do posts fn and waits for it to finish. It must not be called from a job.
//
// fn runs at most once and Do's result says whether it did: nil means fn
// ran, ctx.Err() means it was withdrawn before it started. A job already
// running when ctx ends is waited for.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	const (
		queued int32 = iota
		started
		withdrawn
	)
	var state atomic.Int32
	ch := make(chan struct{})
	if !l.Post(func() {
		defer close(ch)
		if !state.CompareAndSwap(queued, started) {
			return
		}
		fn()
	}) {
		return ErrLoopClosed
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		if state.CompareAndSwap(queued, withdrawn) {
			return ctx.Err()
		}
		<-ch
		return nil
	}
}

// Sync blocks until every job posted before the call has run.
func (l *Loop) Sync() {
	_ = l.Do(context.Background(), func() {})
}

func (l *Loop) Now() time.Time { return l.clock.Now() }

func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	return l.clock.AfterFunc(d, func() { l.Post(fn) })
}

// Close stops accepting jobs, runs the ones already queued and waits for
// the loop goroutine to exit. Calling Close more than once is safe; calling
// it from inside a job deadlocks.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.quit)
		l.mu.Lock()
		l.closed = true
		close(l.jobs)
		l.mu.Unlock()
	})
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for fn := range l.jobs {
		l.exec(fn)
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Msg("dispatch job panicked")
		}
	}()
	fn()
}
