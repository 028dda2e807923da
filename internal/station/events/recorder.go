package events

import "sync"

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events, optionally filtered by type.
func (r *Recorder) Events(only ...Type) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(only) == 0 {
		out := make([]Event, len(r.events))
		copy(out, r.events)
		return out
	}
	var out []Event
	for _, ev := range r.events {
		for _, t := range only {
			if ev.Type == t {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}
