package testutil

import "sync"

// Event is one notification captured by RecordingNotifier.
type Event struct {
	Name    string
	Payload any
}

// RecordingNotifier records every emitted event. Safe for concurrent use.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

func (n *RecordingNotifier) Emit(event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, Event{Name: event, Payload: payload})
}

// Events returns a copy of the recorded events.
func (n *RecordingNotifier) Events() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Event(nil), n.events...)
}

// Count returns how many events named name were recorded.
func (n *RecordingNotifier) Count(name string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, e := range n.events {
		if e.Name == name {
			count++
		}
	}
	return count
}
