/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 The RoomTalk Authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/roomtalk/roomtalk-go-sdk/signaling"
)

func boolPtr(b bool) *bool { return &b }

func TestToggleAudio(t *testing.T) {
	t.Run("gates tracks and publishes the flag", func(t *testing.T) {
		session, channel, _, _ := newTestSession(t)
		startActiveCall(t, session, channel)

		if err := session.ToggleAudio(); err != nil {
			t.Fatalf("ToggleAudio failed: %v", err)
		}

		if got := session.LocalMediaState(); !got.AudioMuted {
			t.Error("Expected audio to be muted")
		}
		for _, track := range session.LocalStream().AudioTracks() {
			if track.Enabled() {
				t.Error("Expected audio tracks to be disabled")
			}
		}
		for _, track := range session.LocalStream().VideoTracks() {
			if !track.Enabled() {
				t.Error("Expected video tracks to stay enabled")
			}
		}
		msg := channel.lastSent()
		if msg == nil || msg.Type != signaling.MessageMuteAudio {
			t.Fatalf("Expected muteAudio to be sent, got %+v", msg)
		}
		if msg.IsMuted == nil || !*msg.IsMuted {
			t.Errorf("Expected isMuted true, got %+v", msg.IsMuted)
		}
		if msg.RoomID != "room-1" {
			t.Errorf("Expected room-1, got %q", msg.RoomID)
		}
		// The wire payload is {roomId, isMuted}; the server attributes the
		// sender itself.
		if msg.User != "" {
			t.Errorf("Expected no user field on outbound mute, got %q", msg.User)
		}
	})

	t.Run("second toggle unmutes", func(t *testing.T) {
		session, channel, _, _ := newTestSession(t)
		startActiveCall(t, session, channel)

		if err := session.ToggleAudio(); err != nil {
			t.Fatalf("first toggle failed: %v", err)
		}
		if err := session.ToggleAudio(); err != nil {
			t.Fatalf("second toggle failed: %v", err)
		}

		if got := session.LocalMediaState(); got.AudioMuted {
			t.Error("Expected audio to be unmuted again")
		}
		for _, track := range session.LocalStream().AudioTracks() {
			if !track.Enabled() {
				t.Error("Expected audio tracks re-enabled")
			}
		}
		msg := channel.lastSent()
		if msg.IsMuted == nil || *msg.IsMuted {
			t.Errorf("Expected isMuted false on unmute, got %+v", msg.IsMuted)
		}
	})

	t.Run("rejected without local media", func(t *testing.T) {
		session, _, _, _ := newTestSession(t)
		if err := session.ToggleAudio(); err == nil {
			t.Error("Expected error toggling with no local media")
		}
	})
}

func TestToggleVideo(t *testing.T) {
	session, channel, _, _ := newTestSession(t)
	startActiveCall(t, session, channel)

	if err := session.ToggleVideo(); err != nil {
		t.Fatalf("ToggleVideo failed: %v", err)
	}

	state := session.LocalMediaState()
	if !state.VideoMuted {
		t.Error("Expected video to be muted")
	}
	if state.AudioMuted {
		t.Error("Expected audio to be unaffected")
	}
	for _, track := range session.LocalStream().VideoTracks() {
		if track.Enabled() {
			t.Error("Expected video tracks to be disabled")
		}
	}
	msg := channel.lastSent()
	if msg == nil || msg.Type != signaling.MessageMuteVideo {
		t.Fatalf("Expected muteVideo to be sent, got %+v", msg)
	}
}

func TestRemoteMuteNotifications(t *testing.T) {
	t.Run("flags keyed per user", func(t *testing.T) {
		session, channel, _, _ := newTestSession(t)
		startActiveCall(t, session, channel)

		channel.deliver(&signaling.Message{Type: signaling.MessageAudioMuted, User: "bob", IsMuted: boolPtr(true)})
		channel.deliver(&signaling.Message{Type: signaling.MessageVideoMuted, User: "carol", IsMuted: boolPtr(true)})

		remote := session.RemoteMediaState()
		if got := remote["bob"]; !got.AudioMuted || got.VideoMuted {
			t.Errorf("Expected bob audio-muted only, got %+v", got)
		}
		if got := remote["carol"]; !got.VideoMuted || got.AudioMuted {
			t.Errorf("Expected carol video-muted only, got %+v", got)
		}
	})

	t.Run("remote flags never leak into local state", func(t *testing.T) {
		session, channel, _, _ := newTestSession(t)
		startActiveCall(t, session, channel)

		channel.deliver(&signaling.Message{Type: signaling.MessageAudioMuted, User: "bob", IsMuted: boolPtr(true)})

		if got := session.LocalMediaState(); got.AudioMuted {
			t.Error("Expected local state to be untouched by remote flags")
		}
		for _, track := range session.LocalStream().AudioTracks() {
			if !track.Enabled() {
				t.Error("Expected local tracks untouched by remote flags")
			}
		}
	})

	t.Run("emits the remote media map", func(t *testing.T) {
		session, channel, _, _ := newTestSession(t)
		startActiveCall(t, session, channel)

		var emitted map[string]MediaState
		session.Emitter.On(EventRemoteMediaState, func(data interface{}) {
			emitted = data.(map[string]MediaState)
		})

		channel.deliver(&signaling.Message{Type: signaling.MessageAudioMuted, User: "bob", IsMuted: boolPtr(true)})

		if emitted == nil || !emitted["bob"].AudioMuted {
			t.Errorf("Expected remote media event for bob, got %+v", emitted)
		}
	})

	t.Run("notification without user key dropped", func(t *testing.T) {
		session, channel, _, _ := newTestSession(t)
		startActiveCall(t, session, channel)

		channel.deliver(&signaling.Message{Type: signaling.MessageAudioMuted, IsMuted: boolPtr(true)})
		if len(session.RemoteMediaState()) != 0 {
			t.Error("Expected unkeyed notification to be dropped")
		}
	})
}

func TestMediaStreamHandleKinds(t *testing.T) {
	audio := newFakeTrack(webrtc.RTPCodecTypeAudio)
	video := newFakeTrack(webrtc.RTPCodecTypeVideo)
	handle := NewLocalHandle(StreamKindCamera, audio, video)

	if got := len(handle.AudioTracks()); got != 1 {
		t.Errorf("Expected 1 audio track, got %d", got)
	}
	if got := len(handle.VideoTracks()); got != 1 {
		t.Errorf("Expected 1 video track, got %d", got)
	}

	handle.StopTracks()
	if !audio.isStopped() || !video.isStopped() {
		t.Error("Expected StopTracks to stop every track")
	}
}
