// Package rfid rebuilds card numbers from a keyboard-emulating reader and
// runs two-tap card enrollment.
package rfid

import (
	"strings"
	"time"

	"github.com/BrandonDHaskell/Portunus/station/internal/dispatch"
)

const (
	MinCardLength = 6
	MaxCardLength = 20
	ScanSilence   = 100 * time.Millisecond
)

// KeyEnter is the Key name of both Enter keys.
const KeyEnter = "ENTER"

// Key is one key-down event. Name is a single printable character, KeyEnter,
// or another multi-character key name that the scanner ignores.
type Key struct {
	Name string
}

type ScanState int

const (
	ScanIdle ScanState = iota
	Scanning
	AwaitingSubmission
)

func (s ScanState) String() string {
	switch s {
	case ScanIdle:
		return "idle"
	case Scanning:
		return "scanning"
	case AwaitingSubmission:
		return "awaiting_submission"
	}
	return "unknown"
}

// Scanner turns key-downs into completed card reads. It must be driven from
// a single goroutine, and clock callbacks must arrive on that goroutine.
type Scanner struct {
	clock  dispatch.Clock
	onScan func(card string)

	state   ScanState
	buf     strings.Builder
	silence dispatch.Timer
	seq     uint64
}

func NewScanner(clock dispatch.Clock, onScan func(card string)) *Scanner {
	return &Scanner{clock: clock, onScan: onScan}
}

func (s *Scanner) State() ScanState { return s.state }

func (s *Scanner) HandleKey(k Key) {
	if s.state == AwaitingSubmission {
		return
	}
	if k.Name == KeyEnter {
		if s.state == Scanning {
			s.complete()
		}
		return
	}
	if len(k.Name) != 1 {
		return
	}

	s.state = Scanning
	s.buf.WriteString(k.Name)
	if s.buf.Len() > MaxCardLength {
		s.Reset()
		return
	}

	s.stopSilence()
	s.seq++
	seq := s.seq
	s.silence = s.clock.AfterFunc(ScanSilence, func() {
		if seq != s.seq || s.state != Scanning {
			return
		}
		s.silence = nil
		s.complete()
	})
}

// Freeze ignores every key until Reset, protecting a confirmed candidate.
func (s *Scanner) Freeze() {
	s.Reset()
	s.state = AwaitingSubmission
}

// Reset discards any partial read and returns to idle.
func (s *Scanner) Reset() {
	s.stopSilence()
	s.seq++
	s.buf.Reset()
	s.state = ScanIdle
}

func (s *Scanner) complete() {
	card := s.buf.String()
	s.Reset()
	if ValidCard(card) {
		s.onScan(card)
	}
}

func (s *Scanner) stopSilence() {
	if s.silence != nil {
		s.silence.Stop()
		s.silence = nil
	}
}

// ValidCard reports whether a completed read looks like a card number
// rather than keyboard noise.
func ValidCard(card string) bool {
	if len(card) < MinCardLength || len(card) > MaxCardLength {
		return false
	}
	for i := 0; i < len(card); i++ {
		c := card[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		default:
			return false
		}
	}
	return true
}
