/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 The RoomTalk Authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Link is the negotiation surface CallSession drives. PeerLink is the
// production implementation; tests substitute an in-process fake.
type Link interface {
	AddLocalTrack(track LocalTrack) error
	ReplaceVideoTrack(track LocalTrack) error
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddRemoteCandidate(candidate webrtc.ICECandidateInit)
	OnLocalCandidate(fn func(webrtc.ICECandidateInit))
	OnRemoteTrack(fn func(track *webrtc.TrackRemote))
	OnFailure(fn func())
	Close()
}

// LinkConfig holds the WebRTC configuration for a PeerLink.
type LinkConfig struct {
	// ICEServers is the list of STUN/TURN servers to use.
	ICEServers []webrtc.ICEServer
}

// DefaultLinkConfig returns a LinkConfig with a public STUN server, the
// minimum needed for a srflx candidate behind NAT.
func DefaultLinkConfig() *LinkConfig {
	return &LinkConfig{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// PeerLink owns exactly one underlying peer connection for one negotiation
// round. Once closed it is never reused; the session creates a fresh link
// per call attempt.
//
// Remote ICE candidates that arrive before the remote description is set
// are buffered and flushed in arrival order the moment it is; a malformed
// candidate is logged and skipped, never fatal.
type PeerLink struct {
	mu sync.Mutex
	pc *webrtc.PeerConnection

	remoteSet bool
	pending   []webrtc.ICECandidateInit
	closed    bool
	failed    bool

	tracks      []LocalTrack
	videoSender *webrtc.RTPSender

	onLocalCandidate func(webrtc.ICECandidateInit)
	onRemoteTrack    func(*webrtc.TrackRemote)
	onFailure        func()
}

// NewPeerLink creates a PeerLink with default codecs and interceptors.
// Pass nil to use DefaultLinkConfig.
func NewPeerLink(config *LinkConfig) (*PeerLink, error) {
	if config == nil {
		config = DefaultLinkConfig()
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: config.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	l := &PeerLink{pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			log.Debug().Str("module", "peerlink").Msg("ICE gathering complete")
			return
		}
		l.mu.Lock()
		fn := l.onLocalCandidate
		l.mu.Unlock()
		if fn != nil {
			fn(c.ToJSON())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "peerlink").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		l.mu.Lock()
		fn := l.onRemoteTrack
		l.mu.Unlock()
		if fn != nil {
			fn(track)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "peerlink").Str("state", s.String()).Msg("connection state")
		if s != webrtc.PeerConnectionStateFailed {
			return
		}
		l.mu.Lock()
		alreadyFailed := l.failed || l.closed
		l.failed = true
		fn := l.onFailure
		l.mu.Unlock()
		if !alreadyFailed && fn != nil {
			fn()
		}
	})

	return l, nil
}

// OnLocalCandidate registers the callback for locally gathered candidates.
// The consumer forwards each one individually over the signaling channel;
// ordering across the channel is the channel's FIFO guarantee.
func (l *PeerLink) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	l.mu.Lock()
	l.onLocalCandidate = fn
	l.mu.Unlock()
}

// OnRemoteTrack registers the callback fired when a remote track begins
// arriving.
func (l *PeerLink) OnRemoteTrack(fn func(*webrtc.TrackRemote)) {
	l.mu.Lock()
	l.onRemoteTrack = fn
	l.mu.Unlock()
}

// OnFailure registers the callback fired once if the connection degrades
// to a failed state.
func (l *PeerLink) OnFailure(fn func()) {
	l.mu.Lock()
	l.onFailure = fn
	l.mu.Unlock()
}

// AddLocalTrack attaches a local track to the connection. The first video
// track's sender is remembered for later in-place replacement.
func (l *PeerLink) AddLocalTrack(track LocalTrack) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("link is closed")
	}

	sender, err := l.pc.AddTrack(track.TrackLocal())
	if err != nil {
		return fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
	}
	l.tracks = append(l.tracks, track)
	if track.Kind() == webrtc.RTPCodecTypeVideo && l.videoSender == nil {
		l.videoSender = sender
	}

	// Drain RTCP so interceptor feedback keeps flowing.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

// ReplaceVideoTrack swaps the outgoing video sender's track in place, with
// no renegotiation; the transceiver stays the same. A nil track leaves the
// sender empty. If no video sender exists yet the track is added instead.
func (l *PeerLink) ReplaceVideoTrack(track LocalTrack) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return fmt.Errorf("link is closed")
	}
	sender := l.videoSender
	l.mu.Unlock()

	if sender == nil {
		if track == nil {
			return nil
		}
		return l.AddLocalTrack(track)
	}

	var next webrtc.TrackLocal
	if track != nil {
		next = track.TrackLocal()
	}
	if err := sender.ReplaceTrack(next); err != nil {
		return fmt.Errorf("failed to replace video track: %w", err)
	}

	l.mu.Lock()
	if track != nil {
		l.tracks = append(l.tracks, track)
	}
	l.mu.Unlock()
	return nil
}

// CreateOffer produces an SDP offer and installs it as the local
// description. Candidates trickle via OnLocalCandidate as they are
// gathered; the offer is not held back for gathering to complete.
func (l *PeerLink) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return offer, nil
}

// CreateAnswer produces an SDP answer and installs it as the local
// description. The remote offer must already be set.
func (l *PeerLink) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return answer, nil
}

// SetRemoteDescription installs the remote description and then flushes
// every buffered candidate in arrival order.
func (l *PeerLink) SetRemoteDescription(desc webrtc.SessionDescription) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return fmt.Errorf("link is closed")
	}
	l.mu.Unlock()

	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	l.mu.Lock()
	l.remoteSet = true
	flush := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, c := range flush {
		l.applyCandidate(c)
	}
	return nil
}

// AddRemoteCandidate applies a remote candidate, or buffers it if the
// remote description is not set yet.
func (l *PeerLink) AddRemoteCandidate(candidate webrtc.ICECandidateInit) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	if !l.remoteSet {
		l.pending = append(l.pending, candidate)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	l.applyCandidate(candidate)
}

// applyCandidate adds one candidate to the connection. A malformed
// candidate is skipped; it must not abort the session.
func (l *PeerLink) applyCandidate(candidate webrtc.ICECandidateInit) {
	if err := l.pc.AddICECandidate(candidate); err != nil {
		log.Warn().Str("module", "peerlink").Err(err).Str("candidate", candidate.Candidate).Msg("skipping bad candidate")
	}
}

// PendingCandidates reports how many remote candidates are buffered
// awaiting the remote description.
func (l *PeerLink) PendingCandidates() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Close stops every attached local track, then releases the underlying
// connection. Idempotent: closing an already-closed link is a no-op.
func (l *PeerLink) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	tracks := l.tracks
	l.tracks = nil
	l.pending = nil
	l.mu.Unlock()

	for _, t := range tracks {
		t.Stop()
	}
	if err := l.pc.Close(); err != nil {
		log.Warn().Str("module", "peerlink").Err(err).Msg("close error")
	}
}
