// Package events is the in-process pub/sub bus that run progress travels on.
package events

import (
	"log/slog"
	"sync"
)

// Event types
const (
	RunStarted     = "run_started"
	ScriptStarted  = "script_started"
	ActionFinished = "action_finished"
	ScriptFinished = "script_finished"
	RunPaused      = "run_paused"
	RunResumed     = "run_resumed"
	HangDetected   = "hang_detected"
	HangResolved   = "hang_resolved"
	RunFinished    = "run_finished"
	RepoChanged    = "repository_changed"
)

// Event is one bus message. RunID is empty for events not tied to a run.
type Event struct {
	Type  string `json:"type"`
	RunID string `json:"run_id,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Handler is a callback for events.
type Handler func(Event)

// Bus delivers events synchronously to subscribers.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[string]map[uint64]Handler
	allHandlers map[uint64]Handler
	nextID      uint64
	logger      *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		handlers:    make(map[string]map[uint64]Handler),
		allHandlers: make(map[uint64]Handler),
		logger:      logger.With("component", "events"),
	}
}

// On registers a handler for one event type and returns its unsubscribe
// function.
func (b *Bus) On(eventType string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[uint64]Handler)
	}
	b.handlers[eventType][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[eventType], id)
	}
}

// OnAll registers a handler for every event.
func (b *Bus) OnAll(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.allHandlers[id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.allHandlers, id)
	}
}

// Emit calls every matching handler in the caller's goroutine. A panicking
// handler is logged and skipped. Emit on a nil bus is a no-op.
func (b *Bus) Emit(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers[e.Type])+len(b.allHandlers))
	for _, h := range b.handlers[e.Type] {
		hs = append(hs, h)
	}
	for _, h := range b.allHandlers {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	for _, h := range hs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panic", "type", e.Type, "panic", r)
				}
			}()
			h(e)
		}()
	}
}
