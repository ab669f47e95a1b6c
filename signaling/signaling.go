/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 The RoomTalk Authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package signaling defines the wire contract between two call parties
// sharing a room, and a WebSocket transport that carries it. The channel is
// ordered, reliable and at-most-once per room; the calling package depends
// on that FIFO guarantee for offer/answer/candidate sequencing.
package signaling

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MessageType identifies a signaling message on the wire.
type MessageType string

const (
	// Caller → callee, relayed by the server.
	MessageCallUser   MessageType = "callUser"
	MessageAnswerCall MessageType = "answerCall"

	// Server → client notifications.
	MessageRinging      MessageType = "ringing"
	MessageReceiveCall  MessageType = "receiveCall"
	MessageCallAnswered MessageType = "callAnswered"
	MessageCallEnded    MessageType = "callEnded"
	MessageAudioMuted   MessageType = "audioMuted"
	MessageVideoMuted   MessageType = "videoMuted"

	// Either direction.
	MessageICECandidate MessageType = "iceCandidate"
	MessageDeclineCall  MessageType = "declineCall"
	MessageEndCall      MessageType = "endCall"
	MessageMuteAudio    MessageType = "muteAudio"
	MessageMuteVideo    MessageType = "muteVideo"
	MessageScreenShare  MessageType = "screenShare"
)

// Message is a single signaling envelope. Only the fields relevant to the
// message type are populated; the rest stay at their zero value and are
// omitted from the JSON encoding.
type Message struct {
	Type   MessageType `json:"type"`
	RoomID string      `json:"roomId,omitempty"`

	// Caller carries the caller display name on ringing/receiveCall.
	Caller string `json:"caller,omitempty"`

	// User identifies the party a server-relayed mute notification is about.
	User string `json:"user,omitempty"`

	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`

	// Pointers so that "false" survives the omitempty rules above.
	IsMuted   *bool `json:"isMuted,omitempty"`
	IsSharing *bool `json:"isSharing,omitempty"`
}

// Handler processes one inbound message. Handlers run on the channel's
// read goroutine and must not block for long.
type Handler func(msg *Message)

// HandlerTable maps message types to handlers. A call session registers its
// complete table in one Bind call so dispatch is swapped atomically.
type HandlerTable map[MessageType]Handler

// Channel is the transport surface the calling package consumes. Implemented
// by Socket; tests substitute an in-process fake.
type Channel interface {
	// Send transmits one message. Ordering is FIFO per room.
	Send(ctx context.Context, msg *Message) error

	// Bind atomically installs the handler table for roomID, replacing any
	// previous binding. Messages for other rooms are dropped.
	Bind(roomID string, handlers HandlerTable)

	// Unbind removes the current binding. Messages received afterwards are
	// dropped, so a closed session never observes a stale event.
	Unbind()
}
