/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 The RoomTalk Authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package signaling

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Dispatcher routes inbound messages to the handler table currently bound
// for a room. Bind and Unbind swap the whole table under one lock, so a
// session's handlers are installed and removed as a unit, with no window
// where half the table belongs to a previous session.
type Dispatcher struct {
	mu       sync.RWMutex
	roomID   string
	handlers HandlerTable
}

// NewDispatcher creates an unbound Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Bind installs handlers for roomID, replacing any previous binding.
func (d *Dispatcher) Bind(roomID string, handlers HandlerTable) {
	d.mu.Lock()
	d.roomID = roomID
	d.handlers = handlers
	d.mu.Unlock()
}

// Unbind clears the current binding.
func (d *Dispatcher) Unbind() {
	d.mu.Lock()
	d.roomID = ""
	d.handlers = nil
	d.mu.Unlock()
}

// Route delivers msg to the bound handler for its type. Server-originated
// notifications carry no roomId and are delivered to whatever room is bound;
// messages that do carry a roomId must match the binding exactly.
func (d *Dispatcher) Route(msg *Message) {
	if msg == nil {
		return
	}

	d.mu.RLock()
	handlers := d.handlers
	roomID := d.roomID
	d.mu.RUnlock()

	if handlers == nil {
		log.Debug().Str("module", "signaling").Str("type", string(msg.Type)).Msg("no binding, message dropped")
		return
	}
	if msg.RoomID != "" && msg.RoomID != roomID {
		log.Debug().Str("module", "signaling").
			Str("type", string(msg.Type)).
			Str("room", msg.RoomID).
			Str("bound", roomID).
			Msg("message for foreign room dropped")
		return
	}

	handler, ok := handlers[msg.Type]
	if !ok {
		log.Debug().Str("module", "signaling").Str("type", string(msg.Type)).Msg("unhandled message type")
		return
	}
	handler(msg)
}
