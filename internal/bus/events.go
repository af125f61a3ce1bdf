package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Relay lifecycle event types.
const (
	EventReceived = "event.received"
	EventRejected = "event.rejected"
	EventAccepted = "event.accepted"
	EventRelayed  = "message.relayed"
	EventLost     = "message.lost"
)

// Event is one step in a message's trip through the relay.
type Event struct {
	Type      string    `json:"type"`
	ChannelID string    `json:"channel_id,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Detail    string    `json:"detail,omitempty"` // rejection reason or delivering sink
	Timestamp time.Time `json:"timestamp"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

type namedHandler struct {
	ID      string
	Handler EventHandler
}

// historySize bounds the events kept for Recent.
const historySize = 256

// EventBus dispatches lifecycle events synchronously to registered handlers
// and keeps the latest historySize events in a ring.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	logger   *slog.Logger

	ring  [historySize]Event
	next  int // slot the next event is written to
	count int
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[string][]namedHandler),
		logger:   logger,
	}
}

// On registers a handler for eventType, or "*" for all events. It returns
// an id for Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := uuid.NewString()
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit records the event and calls every matching handler in registration
// order. A panicking handler is logged and skipped.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	eb.ring[eb.next] = event
	eb.next = (eb.next + 1) % historySize
	if eb.count < historySize {
		eb.count++
	}
	handlers := make([]namedHandler, 0, len(eb.handlers[event.Type])+len(eb.handlers["*"]))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", h.ID, "panic", r)
				}
			}()
			h.Handler(event)
		}()
	}
}

// Recent returns up to n of the latest events of eventType ("*" for all),
// oldest first.
func (eb *EventBus) Recent(eventType string, n int) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var out []Event
	for i := 1; i <= eb.count && len(out) < n; i++ {
		e := eb.ring[(eb.next-i+historySize)%historySize]
		if eventType == "*" || e.Type == eventType {
			out = append(out, e)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (eb *EventBus) HistoryLen() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return eb.count
}
