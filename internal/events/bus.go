package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/augur/pkg/logger"
)

// Handler receives events from the bus. Handlers run on the emitting
// goroutine and must not block.
type Handler func(*Event)

// Bus fans events out to subscribers by type
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType]map[int]Handler
	nextID   int
	log      zerolog.Logger
}

// NewBus creates an empty bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType]map[int]Handler),
		log:      logger.Component(log, "event_bus"),
	}
}

// Subscribe registers handler for eventType and returns a function that
// removes it again.
func (b *Bus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[int]Handler)
	}
	b.handlers[eventType][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers[eventType], id)
		})
	}
}

// SubscriberCount returns the number of handlers registered for eventType
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

// Emit delivers an event to every handler subscribed to its type. A
// panicking handler is logged and does not affect the others.
func (b *Bus) Emit(eventType EventType, module string, data map[string]any) {
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Module:    module,
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[eventType]))
	for _, h := range b.handlers[eventType] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, event)
	}
}

func (b *Bus) dispatch(h Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("event_type", string(event.Type)).
				Str("panic", fmt.Sprint(r)).
				Msg("Event handler panicked")
		}
	}()
	h(event)
}
