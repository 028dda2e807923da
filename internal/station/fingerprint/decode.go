// Package fingerprint decodes the scanner's line protocol and runs slot
// enrollment against it.
package fingerprint

import (
	"strconv"
	"strings"
)

type EventKind int

const (
	EventRaw EventKind = iota
	EventIdle
	EventEnrollConfirm
	EventNotFound
	EventRecognized
	EventFirstPress
	EventFirstLift
	EventSecondPress
	EventEnrollFailed
	EventEnrollSucceeded
)

func (k EventKind) String() string {
	switch k {
	case EventIdle:
		return "idle"
	case EventEnrollConfirm:
		return "enroll_confirm"
	case EventNotFound:
		return "not_found"
	case EventRecognized:
		return "recognized"
	case EventFirstPress:
		return "first_press"
	case EventFirstLift:
		return "first_lift"
	case EventSecondPress:
		return "second_press"
	case EventEnrollFailed:
		return "enroll_failed"
	case EventEnrollSucceeded:
		return "enroll_success"
	}
	return "raw"
}

// Event is one decoded scanner line. Slot holds the recognized id or the
// enrollment slot; Raw always holds the trimmed line.
type Event struct {
	Kind EventKind
	Slot int
	Raw  string
}

var slotCodes = map[byte]EventKind{
	'y': EventFirstPress,
	'u': EventFirstLift,
	'h': EventSecondPress,
	'x': EventEnrollFailed,
	'i': EventEnrollSucceeded,
}

// Decode classifies a line. Rules are tried in order and the first match
// wins; anything unmatched is EventRaw.
func Decode(line string) Event {
	line = strings.TrimSpace(line)
	ev := Event{Kind: EventRaw, Raw: line}

	switch {
	case line == "":
		return ev
	case line == "i":
		ev.Kind = EventIdle
	case line == "t":
		ev.Kind = EventEnrollConfirm
	case line == "0":
		ev.Kind = EventNotFound
	case isDigits(line):
		if n, ok := atoi(line); ok {
			ev.Kind, ev.Slot = EventRecognized, n
		}
	default:
		kind, tagged := slotCodes[line[0]]
		if !tagged || !isDigits(line[1:]) {
			return ev
		}
		if n, ok := atoi(line[1:]); ok {
			ev.Kind, ev.Slot = kind, n
		}
	}
	return ev
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	return n, err == nil
}
