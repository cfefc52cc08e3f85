// Package notify provides the in-process notification bus that fans
// persisted session events and lifecycle changes out to observers.
package notify

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/dispatch/internal/domain"
)

// Topics published on the bus.
const (
	// TopicEventRecorded carries every newly persisted event.
	TopicEventRecorded = "session.event"
	// TopicEventLegacy carries the same record under the name older
	// listeners subscribe to.
	TopicEventLegacy = "event"
	// TopicEventReplayed carries historical events re-emitted on resume.
	TopicEventReplayed = "session.replay"
	// TopicStatus carries persisted status transitions.
	TopicStatus = "session.status"
	// TopicClosed is published once per CloseSession.
	TopicClosed = "session.closed"
)

// Notification is the value delivered to handlers.
type Notification struct {
	Topic     string
	SessionID string
	Event     *domain.SessionEvent
	Status    domain.SessionStatus
}

// Handler handles a notification. Handlers run on the publisher's goroutine
// and must not block for long.
type Handler func(Notification)

type subscription struct {
	id        string
	sessionID string
	handler   Handler
}

// Bus is a synchronous topic-based pub-sub bus.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription // topic -> subscriptions
	logger *slog.Logger
}

// NewBus creates a new bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string][]subscription),
		logger: logger,
	}
}

// Subscribe registers h for topic. An empty sessionID receives the topic
// for every session. The returned id is used to unsubscribe.
func (b *Bus) Subscribe(topic, sessionID string, h Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	b.subs[topic] = append(b.subs[topic], subscription{id: id, sessionID: sessionID, handler: h})
	return id
}

// Unsubscribe removes a subscription by id and reports whether it existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subs {
		for i, sub := range subs {
			if sub.id == id {
				next := make([]subscription, 0, len(subs)-1)
				next = append(next, subs[:i]...)
				next = append(next, subs[i+1:]...)
				b.subs[topic] = next
				return true
			}
		}
	}
	return false
}

// Publish delivers n to every matching subscriber in registration order.
// A panicking handler is logged and does not stop delivery.
func (b *Bus) Publish(n Notification) {
	b.mu.RLock()
	subs := b.subs[n.Topic]
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.sessionID != "" && sub.sessionID != n.SessionID {
			continue
		}
		b.safeCall(sub.handler, n)
	}
}

// PublishEvent publishes a persisted event under both event topics.
func (b *Bus) PublishEvent(ev *domain.SessionEvent) {
	b.Publish(Notification{Topic: TopicEventRecorded, SessionID: ev.SessionID, Event: ev})
	b.Publish(Notification{Topic: TopicEventLegacy, SessionID: ev.SessionID, Event: ev})
}

func (b *Bus) safeCall(h Handler, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("notification handler panicked",
				"topic", n.Topic, "session_id", n.SessionID, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	h(n)
}
