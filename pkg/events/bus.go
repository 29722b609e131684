// Package events provides the pipeline's synchronous publish/subscribe bus
// with bounded history.
package events

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-parley/pkg/schema"
)

// DefaultHistorySize is the number of events retained when none is configured.
const DefaultHistorySize = 100

// Handler receives emitted events. Handlers run on the emitting goroutine
// after the bus lock is released.
type Handler func(schema.RunEvent)

type subscription struct {
	id        int
	eventType string
	handler   Handler
}

// Bus is a thread-safe event bus. A single mutex guards subscribers and history.
type Bus struct {
	mu      sync.Mutex
	subs    []subscription
	nextID  int
	history []schema.RunEvent
	size    int
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithHistorySize sets the ring buffer capacity.
func WithHistorySize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.size = n
		}
	}
}

// WithLogger sets the logger used to report failing handlers.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// New creates an event bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		size:   DefaultHistorySize,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "events.bus")
	b.history = make([]schema.RunEvent, 0, b.size)
	return b
}

// Subscribe registers a handler for eventType, or for every event when
// eventType is Wildcard. It returns an id for Unsubscribe.
func (b *Bus) Subscribe(eventType string, h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs = append(b.subs, subscription{id: b.nextID, eventType: eventType, handler: h})
	return b.nextID
}

// Unsubscribe removes a subscription. It reports whether the id was found.
func (b *Bus) Unsubscribe(id int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Emit records an event and delivers it to matching subscribers in
// subscription order. A panicking handler is logged and skipped.
func (b *Bus) Emit(eventType string, data map[string]any, runID string) schema.RunEvent {
	ev := schema.RunEvent{
		Type:      eventType,
		Data:      copyData(data),
		Timestamp: b.now(),
		RunID:     runID,
	}

	b.mu.Lock()
	if len(b.history) == b.size {
		copy(b.history, b.history[1:])
		b.history = b.history[:b.size-1]
	}
	b.history = append(b.history, ev)

	handlers := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.eventType == eventType || s.eventType == Wildcard {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		b.deliver(h, ev)
	}
	return ev
}

func (b *Bus) deliver(h Handler, ev schema.RunEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler failed",
				"event_type", ev.Type,
				"run_id", ev.RunID,
				"error", fmt.Sprint(r),
			)
		}
	}()
	h(ev)
}

// Recent returns up to n of the newest events, oldest first.
func (b *Bus) Recent(n int) []schema.RunEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.history) {
		n = len(b.history)
	}
	out := make([]schema.RunEvent, n)
	copy(out, b.history[len(b.history)-n:])
	return out
}

// ForRun returns the retained events of one run, oldest first.
func (b *Bus) ForRun(runID string) []schema.RunEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []schema.RunEvent
	for _, ev := range b.history {
		if ev.RunID == runID {
			out = append(out, ev)
		}
	}
	return out
}

// Clear drops the retained history. Subscriptions are kept.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = b.history[:0]
}

// copyData detaches the event payload from the caller's map.
func copyData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
