/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 The RoomTalk Authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
)

// staticTrack adapts a Pion static sample track to LocalTrack for tests
// that exercise a real peer connection.
type staticTrack struct {
	track *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	enabled bool
	stopped bool
}

func newStaticVideoTrack(t *testing.T) *staticTrack {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "test")
	if err != nil {
		t.Fatalf("failed to create track: %v", err)
	}
	return &staticTrack{track: track, enabled: true}
}

func newStaticAudioTrack(t *testing.T) *staticTrack {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test")
	if err != nil {
		t.Fatalf("failed to create track: %v", err)
	}
	return &staticTrack{track: track, enabled: true}
}

func (s *staticTrack) Kind() webrtc.RTPCodecType { return s.track.Kind() }

func (s *staticTrack) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *staticTrack) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

func (s *staticTrack) TrackLocal() webrtc.TrackLocal { return s.track }

func (s *staticTrack) OnEnded(fn func()) {}

func (s *staticTrack) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *staticTrack) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func newTestLink(t *testing.T) *PeerLink {
	t.Helper()
	// No ICE servers: host candidates are enough in-process.
	link, err := NewPeerLink(&LinkConfig{})
	if err != nil {
		t.Fatalf("NewPeerLink failed: %v", err)
	}
	t.Cleanup(link.Close)
	return link
}

func TestPeerLinkNegotiation(t *testing.T) {
	ctx := context.Background()

	offerer := newTestLink(t)
	answerer := newTestLink(t)

	if err := offerer.AddLocalTrack(newStaticAudioTrack(t)); err != nil {
		t.Fatalf("AddLocalTrack audio failed: %v", err)
	}
	if err := offerer.AddLocalTrack(newStaticVideoTrack(t)); err != nil {
		t.Fatalf("AddLocalTrack video failed: %v", err)
	}

	offer, err := offerer.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		t.Fatalf("Unexpected offer: %+v", offer)
	}

	if err := answerer.SetRemoteDescription(offer); err != nil {
		t.Fatalf("SetRemoteDescription(offer) failed: %v", err)
	}
	answer, err := answerer.CreateAnswer(ctx)
	if err != nil {
		t.Fatalf("CreateAnswer failed: %v", err)
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("Unexpected answer: %+v", answer)
	}

	if err := offerer.SetRemoteDescription(answer); err != nil {
		t.Fatalf("SetRemoteDescription(answer) failed: %v", err)
	}
}

func TestPeerLinkCandidateBuffering(t *testing.T) {
	ctx := context.Background()
	candidate := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 54321 typ host"}

	offerer := newTestLink(t)
	answerer := newTestLink(t)
	if err := offerer.AddLocalTrack(newStaticAudioTrack(t)); err != nil {
		t.Fatalf("AddLocalTrack failed: %v", err)
	}
	offer, err := offerer.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}

	t.Run("buffered before the remote description", func(t *testing.T) {
		answerer.AddRemoteCandidate(candidate)
		answerer.AddRemoteCandidate(candidate)
		if got := answerer.PendingCandidates(); got != 2 {
			t.Errorf("Expected 2 pending candidates, got %d", got)
		}
	})

	t.Run("flushed when the description arrives", func(t *testing.T) {
		if err := answerer.SetRemoteDescription(offer); err != nil {
			t.Fatalf("SetRemoteDescription failed: %v", err)
		}
		if got := answerer.PendingCandidates(); got != 0 {
			t.Errorf("Expected buffer drained, got %d pending", got)
		}
	})

	t.Run("applied directly afterwards", func(t *testing.T) {
		answerer.AddRemoteCandidate(candidate)
		if got := answerer.PendingCandidates(); got != 0 {
			t.Errorf("Expected direct application, got %d pending", got)
		}
	})

	t.Run("malformed candidate skipped", func(t *testing.T) {
		answerer.AddRemoteCandidate(webrtc.ICECandidateInit{Candidate: "not a candidate"})
		// Still usable afterwards.
		answerer.AddRemoteCandidate(candidate)
		if got := answerer.PendingCandidates(); got != 0 {
			t.Errorf("Expected no buffering after bad candidate, got %d", got)
		}
	})
}

func TestPeerLinkReplaceVideoTrack(t *testing.T) {
	t.Run("swaps the sender track in place", func(t *testing.T) {
		link := newTestLink(t)
		if err := link.AddLocalTrack(newStaticVideoTrack(t)); err != nil {
			t.Fatalf("AddLocalTrack failed: %v", err)
		}
		if err := link.ReplaceVideoTrack(newStaticVideoTrack(t)); err != nil {
			t.Fatalf("ReplaceVideoTrack failed: %v", err)
		}
	})

	t.Run("nil clears the sender", func(t *testing.T) {
		link := newTestLink(t)
		if err := link.AddLocalTrack(newStaticVideoTrack(t)); err != nil {
			t.Fatalf("AddLocalTrack failed: %v", err)
		}
		if err := link.ReplaceVideoTrack(nil); err != nil {
			t.Fatalf("ReplaceVideoTrack(nil) failed: %v", err)
		}
	})

	t.Run("adds the track when no sender exists", func(t *testing.T) {
		link := newTestLink(t)
		if err := link.ReplaceVideoTrack(newStaticVideoTrack(t)); err != nil {
			t.Fatalf("ReplaceVideoTrack without sender failed: %v", err)
		}
	})

	t.Run("nil with no sender is a no-op", func(t *testing.T) {
		link := newTestLink(t)
		if err := link.ReplaceVideoTrack(nil); err != nil {
			t.Fatalf("ReplaceVideoTrack(nil) failed: %v", err)
		}
	})
}

func TestPeerLinkClose(t *testing.T) {
	t.Run("stops attached tracks", func(t *testing.T) {
		link, err := NewPeerLink(&LinkConfig{})
		if err != nil {
			t.Fatalf("NewPeerLink failed: %v", err)
		}
		track := newStaticVideoTrack(t)
		if err := link.AddLocalTrack(track); err != nil {
			t.Fatalf("AddLocalTrack failed: %v", err)
		}

		link.Close()
		if !track.isStopped() {
			t.Error("Expected the track to be stopped on close")
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		link, err := NewPeerLink(&LinkConfig{})
		if err != nil {
			t.Fatalf("NewPeerLink failed: %v", err)
		}
		link.Close()
		link.Close() // second close must not panic
	})

	t.Run("operations rejected after close", func(t *testing.T) {
		link, err := NewPeerLink(&LinkConfig{})
		if err != nil {
			t.Fatalf("NewPeerLink failed: %v", err)
		}
		link.Close()

		if err := link.AddLocalTrack(newStaticVideoTrack(t)); err == nil {
			t.Error("Expected AddLocalTrack to fail on a closed link")
		}
		if err := link.SetRemoteDescription(webrtc.SessionDescription{}); err == nil {
			t.Error("Expected SetRemoteDescription to fail on a closed link")
		}
	})
}

func TestDefaultLinkConfig(t *testing.T) {
	config := DefaultLinkConfig()
	if len(config.ICEServers) == 0 {
		t.Fatal("Expected at least one ICE server")
	}
	if len(config.ICEServers[0].URLs) == 0 {
		t.Fatal("Expected a STUN URL")
	}
}
