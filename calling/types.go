/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 The RoomTalk Authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

// State represents the position of a session in the call state machine.
type State string

const (
	StateIdle     State = "idle"
	StateOutgoing State = "outgoing"
	StateRinging  State = "ringing"
	StateActive   State = "active"
	StateEnded    State = "ended"
)

// EventKey identifies the type of session event delivered to the embedding
// application through the session's Emitter.
type EventKey string

const (
	// EventStateChanged carries the new State.
	EventStateChanged EventKey = "state_changed"
	// EventIncomingCall carries the caller display name.
	EventIncomingCall EventKey = "incoming_call"
	// EventLocalStream carries the *MediaStreamHandle for local capture.
	EventLocalStream EventKey = "local_stream"
	// EventRemoteStream carries the *MediaStreamHandle assembled from
	// remote tracks. Delivered on the session's task turn, never inside a
	// negotiation callback.
	EventRemoteStream EventKey = "remote_stream"
	// EventRemoteMediaState carries the map of per-user MediaState.
	EventRemoteMediaState EventKey = "remote_media_state"
	// EventScreenShare carries a bool: local sharing started/stopped.
	EventScreenShare EventKey = "screen_share"
	// EventRemoteScreenShare carries a bool: remote sharing started/stopped.
	EventRemoteScreenShare EventKey = "remote_screen_share"
	// EventCallError carries an error from the taxonomy in errors.go.
	EventCallError EventKey = "call_error"
)

// MediaState is the published mute state of one participant.
type MediaState struct {
	AudioMuted bool
	VideoMuted bool
}

// StreamKind classifies what a MediaStreamHandle captures.
type StreamKind string

const (
	// StreamKindCamera is combined camera + microphone user media. An
	// audio-only acquisition still uses this kind with no video tracks.
	StreamKindCamera StreamKind = "camera"
	// StreamKindScreen is display capture.
	StreamKindScreen StreamKind = "screen"
)

// StreamOwner distinguishes locally captured media from media arriving over
// the peer connection.
type StreamOwner string

const (
	StreamOwnerLocal  StreamOwner = "local"
	StreamOwnerRemote StreamOwner = "remote"
)

// MediaConstraints selects which device kinds to acquire.
type MediaConstraints struct {
	Audio bool
	Video bool
}
