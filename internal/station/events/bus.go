// Package events fans decoded device activity out to independent
// subscribers (UI stream, logging, health reporting).
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Portunus/station/internal/station/types"
)

type Type string

const (
	TypeLinkState     Type = "link_state"
	TypeEnrollment    Type = "enrollment"
	TypeAccessAttempt Type = "access_attempt"
	TypeInputTrigger  Type = "input_triggered"
	TypeRaw           Type = "raw"
)

// Event carries enough structured data for a UI to render status without
// knowing any device protocol.
type Event struct {
	ID         string                  `json:"id"`
	Type       Type                    `json:"type"`
	At         time.Time               `json:"at"`
	Role       types.Role              `json:"role,omitempty"`
	Link       *types.LinkStatus       `json:"link,omitempty"`
	Enrollment *types.EnrollmentStatus `json:"enrollment,omitempty"`
	Attempt    *types.AccessAttempt    `json:"attempt,omitempty"`
	Message    string                  `json:"message,omitempty"`
	Raw        string                  `json:"raw,omitempty"`
}

// Publisher is what components depend on to announce events.
type Publisher interface {
	Publish(ev Event)
}

// Bus delivers each event to every subscriber. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of future events and a cancel func that
// closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}
