// Package hooks fans thread, memory and gateway lifecycle events out to
// in-process subscribers such as the gateway and the IRC notifier.
package hooks

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sort"
	"sync"

	"github.com/soyeahso/mailroom/internal/logging"
)

// Event names.
const (
	EventThreadStarted   = "thread_started"
	EventThreadSuspended = "thread_suspended"
	EventThreadResumed   = "thread_resumed"
	EventThreadCompleted = "thread_completed"
	EventThreadFailed    = "thread_failed"
	EventToolExecuted    = "tool_executed"
	EventMemoryUpdated   = "memory_updated"
	EventGatewayStart    = "gateway_start"
	EventGatewayStop     = "gateway_stop"
)

// AllEvents lists every event the workflow and gateway emit.
var AllEvents = []string{
	EventThreadStarted,
	EventThreadSuspended,
	EventThreadResumed,
	EventThreadCompleted,
	EventThreadFailed,
	EventToolExecuted,
	EventMemoryUpdated,
	EventGatewayStart,
	EventGatewayStop,
}

// Payload is what a handler receives. Thread events carry the thread id
// under "thread".
type Payload struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Str returns Data[key] formatted as a string, or "".
func (p Payload) Str(key string) string {
	v, ok := p.Data[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Thread returns the thread id of a thread event.
func (p Payload) Thread() (string, bool) {
	id, ok := p.Data["thread"].(string)
	return id, ok && id != ""
}

// Handler reacts to an event. An error is logged and does not stop the
// remaining handlers.
type Handler func(ctx context.Context, p Payload) error

// Manager dispatches events to registered handlers. A nil *Manager accepts
// Emit, EmitAsync and Wait and does nothing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	inflight sync.WaitGroup
	log      *logging.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On registers handler under name. Handlers run in registration order.
func (m *Manager) On(event, name string, handler Handler) {
	if !slices.Contains(AllEvents, event) {
		m.log.Warn().Str("event", event).Str("handler", name).Msg("hook registered for unknown event")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// Off removes every handler registered under name for event.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = slices.DeleteFunc(m.handlers[event], func(h namedHandler) bool {
		return h.name == name
	})
}

func (m *Manager) snapshot(event string) []namedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.handlers[event])
}

// Emit runs the handlers of event one after another on the caller's
// goroutine.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	p := Payload{Event: event, Data: data}
	for _, h := range m.snapshot(event) {
		m.call(ctx, h, p)
	}
}

// EmitAsync starts each handler of event on its own goroutine and returns.
// Wait blocks until they finish.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	p := Payload{Event: event, Data: data}
	handlers := m.snapshot(event)
	m.inflight.Add(len(handlers))
	for _, h := range handlers {
		go func() {
			defer m.inflight.Done()
			m.call(ctx, h, p)
		}()
	}
}

// call runs one handler. A panicking handler is logged and does not take
// the thread that emitted the event down with it.
func (m *Manager) call(ctx context.Context, h namedHandler, p Payload) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().
				Str("event", p.Event).
				Str("handler", h.name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("hook handler panicked")
		}
	}()
	if err := h.handler(ctx, p); err != nil {
		m.log.Warn().Err(err).Str("event", p.Event).Str("handler", h.name).Msg("hook handler error")
	}
}

// Wait blocks until every handler started by EmitAsync has returned.
func (m *Manager) Wait() {
	if m == nil {
		return
	}
	m.inflight.Wait()
}

// Count returns the number of handlers registered for event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

// Events returns the events that have at least one handler, sorted.
func (m *Manager) Events() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var events []string
	for event, handlers := range m.handlers {
		if len(handlers) > 0 {
			events = append(events, event)
		}
	}
	sort.Strings(events)
	return events
}
