package events

import (
	"sync"

	"github.com/optionsdesk/terminal/internal/telemetry"
)

// Handler processes an event. Returning an error logs it but does not stop
// dispatch to the remaining handlers.
type Handler func(Event) error

// Bus is a synchronous in-process event bus.
// Subscribers are invoked in registration order on the publisher's goroutine.
// A panicking or failing subscriber is isolated: it is logged and delivery
// continues to the rest.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for a given event type.
func (b *Bus) Subscribe(eventType EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Publish dispatches an event to all registered handlers for its type.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := b.handlers[e.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		dispatch(h, e)
	}
}

func dispatch(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.Errorf("events: handler panic on %s: %v", e.Type, r)
		}
	}()
	if err := h(e); err != nil {
		telemetry.Warnf("events: handler error on %s: %v", e.Type, err)
	}
}
