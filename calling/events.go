/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 The RoomTalk Authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import "sync"

// EventHandler is a callback function for session events.
type EventHandler func(data interface{})

// EventEmitter is the pub/sub surface between a CallSession and the
// embedding UI layer. Handlers run synchronously on the emitting goroutine
// and must not call back into blocking session operations.
type EventEmitter struct {
	mu       sync.RWMutex
	handlers map[EventKey][]EventHandler
}

// NewEventEmitter creates a new EventEmitter.
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		handlers: make(map[EventKey][]EventHandler),
	}
}

// On registers a handler for an event key.
func (e *EventEmitter) On(event EventKey, handler EventHandler) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	e.handlers[event] = append(e.handlers[event], handler)
	e.mu.Unlock()
}

// Off removes all handlers for an event key.
func (e *EventEmitter) Off(event EventKey) {
	e.mu.Lock()
	delete(e.handlers, event)
	e.mu.Unlock()
}

// Emit invokes every handler registered for the event key with data.
// The handler slice is snapshotted under the read lock so a handler may
// register or remove handlers without deadlocking.
func (e *EventEmitter) Emit(event EventKey, data interface{}) {
	e.mu.RLock()
	registered := e.handlers[event]
	snapshot := make([]EventHandler, len(registered))
	copy(snapshot, registered)
	e.mu.RUnlock()

	for _, handler := range snapshot {
		handler(data)
	}
}
