/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 The RoomTalk Authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
)

// LocalTrack is one locally captured track. Mute state is purely
// track-gating: SetEnabled flips a flag the capture pump honors, the track
// stays attached to the peer connection and nothing is renegotiated.
type LocalTrack interface {
	// Kind reports whether this is an audio or a video track.
	Kind() webrtc.RTPCodecType

	// Enabled reports whether samples are currently being forwarded.
	Enabled() bool

	// SetEnabled gates sample forwarding without detaching the track.
	SetEnabled(enabled bool)

	// TrackLocal exposes the Pion track for attachment to a peer connection.
	TrackLocal() webrtc.TrackLocal

	// OnEnded registers a callback fired once when the capture source ends
	// on its own (e.g. the user stops a screen share from OS chrome).
	OnEnded(fn func())

	// Stop releases the underlying capture device. Idempotent.
	Stop()
}

// GatewayConfig tunes the platform media gateway.
type GatewayConfig struct {
	// VideoBitRate is the target camera encoder bitrate in bits/second.
	VideoBitRate int
	// MaxWidth / MaxHeight cap camera capture resolution.
	MaxWidth  int
	MaxHeight int
	// ScreenFrameRate caps display capture frame rate.
	ScreenFrameRate int
}

// DefaultGatewayConfig returns the default gateway configuration.
func DefaultGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		VideoBitRate:    1_500_000,
		MaxWidth:        640,
		MaxHeight:       480,
		ScreenFrameRate: 15,
	}
}

// MediaGateway acquires local capture devices. The returned handles own
// their devices exclusively for the lifetime of the current call and must
// be stopped on every exit path from an active call.
type MediaGateway interface {
	// Acquire opens camera and/or microphone capture.
	Acquire(ctx context.Context, constraints MediaConstraints) (*MediaStreamHandle, error)

	// AcquireDisplay opens display capture for screen sharing.
	AcquireDisplay(ctx context.Context) (*MediaStreamHandle, error)
}

// MediaStreamHandle is a logical wrapper around one local or remote
// capture. Local handles own their tracks and stop them on StopTracks;
// remote handles reference tracks owned by the transport layer and are
// released when the peer link closes.
type MediaStreamHandle struct {
	Kind  StreamKind
	Owner StreamOwner

	mu     sync.Mutex
	local  []LocalTrack
	remote []*webrtc.TrackRemote
}

// NewLocalHandle wraps locally captured tracks.
func NewLocalHandle(kind StreamKind, tracks ...LocalTrack) *MediaStreamHandle {
	return &MediaStreamHandle{Kind: kind, Owner: StreamOwnerLocal, local: tracks}
}

func newRemoteHandle() *MediaStreamHandle {
	return &MediaStreamHandle{Kind: StreamKindCamera, Owner: StreamOwnerRemote}
}

// Tracks returns the local tracks of this handle.
func (h *MediaStreamHandle) Tracks() []LocalTrack {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]LocalTrack, len(h.local))
	copy(out, h.local)
	return out
}

// AudioTracks returns the local audio tracks of this handle.
func (h *MediaStreamHandle) AudioTracks() []LocalTrack {
	return h.tracksOfKind(webrtc.RTPCodecTypeAudio)
}

// VideoTracks returns the local video tracks of this handle.
func (h *MediaStreamHandle) VideoTracks() []LocalTrack {
	return h.tracksOfKind(webrtc.RTPCodecTypeVideo)
}

func (h *MediaStreamHandle) tracksOfKind(kind webrtc.RTPCodecType) []LocalTrack {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []LocalTrack
	for _, t := range h.local {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// StopTracks releases every local device this handle owns. Safe to call
// more than once; remote handles are unaffected.
func (h *MediaStreamHandle) StopTracks() {
	for _, t := range h.Tracks() {
		t.Stop()
	}
}

// RemoteTracks returns the remote tracks attached so far.
func (h *MediaStreamHandle) RemoteTracks() []*webrtc.TrackRemote {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*webrtc.TrackRemote, len(h.remote))
	copy(out, h.remote)
	return out
}

func (h *MediaStreamHandle) addRemoteTrack(t *webrtc.TrackRemote) {
	h.mu.Lock()
	h.remote = append(h.remote, t)
	h.mu.Unlock()
}
