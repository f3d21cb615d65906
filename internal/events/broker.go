// Package events fans backup notifications out to in-process subscribers
// such as websocket clients.
package events

import (
	"time"

	"pibackup/internal/backup"
	"pibackup/internal/syncutil"
)

// Notification is one event delivered to subscribers.
type Notification struct {
	Event   string    `json:"event"`
	Payload any       `json:"payload,omitempty"`
	Time    time.Time `json:"time"`
}

// Broker broadcasts notifications to every subscriber. Sends never block:
// a subscriber whose buffer is full misses the notification.
type Broker struct {
	clock  backup.Clock
	logger backup.Logger

	mu          syncutil.RWMutex
	subscribers map[int]chan Notification
	nextID      int
	closed      bool
}

// NewBroker creates a Broker.
func NewBroker(clock backup.Clock, logger backup.Logger) *Broker {
	return &Broker{
		clock:       clock,
		logger:      logger,
		subscribers: make(map[int]chan Notification),
	}
}

// Emit implements backup.Notifier.
func (b *Broker) Emit(event string, payload any) {
	n := Notification{Event: event, Payload: payload, Time: b.clock.Now()}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- n:
		default:
			b.logger.Warn("subscriber channel full, dropping notification", "subscriber_id", id, "event", event)
		}
	}
}

// Subscribe registers a subscriber with room for bufferSize pending
// notifications. The returned id is used to unsubscribe. Subscribing to a
// closed broker returns an already closed channel.
func (b *Broker) Subscribe(bufferSize int) (<-chan Notification, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Notification, bufferSize)
	id := b.nextID
	b.nextID++

	if b.closed {
		close(ch)
		return ch, id
	}
	b.subscribers[id] = ch
	b.logger.Debug("subscriber registered", "subscriber_id", id, "buffer_size", bufferSize)
	return ch, id
}

// Unsubscribe removes a subscription and closes its channel. Repeated calls are no-ops.
func (b *Broker) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes every subscriber channel. Later Emit calls are dropped.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	b.closed = true
}

var _ backup.Notifier = (*Broker)(nil)
