// Package events provides the in-process event bus for pipeline and
// maintenance lifecycle notifications.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies a class of system event
type EventType string

const (
	DocumentIngested      EventType = "document_ingested"
	DocumentDuplicate     EventType = "document_duplicate"
	IngestFailed          EventType = "ingest_failed"
	RollbackPerformed     EventType = "rollback_performed"
	ReconciliationStarted EventType = "reconciliation_started"
	ReconciliationDone    EventType = "reconciliation_done"
	BackupCompleted       EventType = "backup_completed"
)

// Event is one published occurrence with its typed payload
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data,omitempty"`
}

// Subscriber receives events; callbacks must not block
type Subscriber func(Event)

// Bus is a fan-out event bus. Publish never blocks the caller beyond the
// subscriber callbacks themselves.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	all         []Subscriber
	log         zerolog.Logger
}

// NewBus creates an event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
		log:         log.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a callback for one event type
func (b *Bus) Subscribe(t EventType, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[t] = append(b.subscribers[t], fn)
}

// SubscribeAll registers a callback for every event type
func (b *Bus) SubscribeAll(fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, fn)
}

// Publish delivers an event to all matching subscribers
func (b *Bus) Publish(t EventType, data EventData) {
	evt := Event{Type: t, Timestamp: time.Now().UTC(), Data: data}

	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers[t])+len(b.all))
	subs = append(subs, b.subscribers[t]...)
	subs = append(subs, b.all...)
	b.mu.RUnlock()

	b.log.Debug().Str("event", string(t)).Int("subscribers", len(subs)).Msg("Publishing event")

	for _, fn := range subs {
		fn(evt)
	}
}
