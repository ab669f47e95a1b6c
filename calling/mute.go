/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 The RoomTalk Authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/roomtalk/roomtalk-go-sdk/signaling"
)

// ToggleAudio flips the local audio mute flag, gates the capture tracks
// accordingly and publishes the new flag as muteAudio.
func (s *CallSession) ToggleAudio() error {
	return s.toggleMute(webrtc.RTPCodecTypeAudio)
}

// ToggleVideo is ToggleAudio for the camera tracks; the flag goes out as
// muteVideo.
func (s *CallSession) ToggleVideo() error {
	return s.toggleMute(webrtc.RTPCodecTypeVideo)
}

// toggleMute changes the track gate, the published flag and sends the wire
// message in one critical section, so two rapid toggles can never publish
// flags out of order with the gates they describe.
func (s *CallSession) toggleMute(kind webrtc.RTPCodecType) error {
	s.mu.Lock()
	if s.localStream == nil {
		s.mu.Unlock()
		return fmt.Errorf("no local media to mute")
	}

	state := s.localMedia[s.localUser]
	var muted bool
	var msgType signaling.MessageType
	var tracks []LocalTrack
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		state.AudioMuted = !state.AudioMuted
		muted = state.AudioMuted
		msgType = signaling.MessageMuteAudio
		tracks = s.localStream.AudioTracks()
	default:
		state.VideoMuted = !state.VideoMuted
		muted = state.VideoMuted
		msgType = signaling.MessageMuteVideo
		tracks = s.localStream.VideoTracks()
	}
	for _, track := range tracks {
		track.SetEnabled(!muted)
	}
	s.localMedia[s.localUser] = state

	msg := &signaling.Message{Type: msgType, RoomID: s.roomID, IsMuted: &muted}
	err := s.channel.Send(context.Background(), msg)
	s.mu.Unlock()

	if err != nil {
		return newSignalingError("publish mute state", s.roomID, err)
	}
	log.Debug().Str("module", "calling").Str("room", s.roomID).Str("kind", kind.String()).Bool("muted", muted).Msg("mute toggled")
	return nil
}

// handleAudioMuted records the remote party's audio flag under their user
// key. Remote flags never touch the local maps, and vice versa.
func (s *CallSession) handleAudioMuted(msg *signaling.Message) {
	if msg.IsMuted == nil || msg.User == "" {
		return
	}
	s.mu.Lock()
	state := s.remoteMedia[msg.User]
	state.AudioMuted = *msg.IsMuted
	s.remoteMedia[msg.User] = state
	snapshot := s.remoteMediaLocked()
	s.mu.Unlock()

	s.Emitter.Emit(EventRemoteMediaState, snapshot)
}

func (s *CallSession) handleVideoMuted(msg *signaling.Message) {
	if msg.IsMuted == nil || msg.User == "" {
		return
	}
	s.mu.Lock()
	state := s.remoteMedia[msg.User]
	state.VideoMuted = *msg.IsMuted
	s.remoteMedia[msg.User] = state
	snapshot := s.remoteMediaLocked()
	s.mu.Unlock()

	s.Emitter.Emit(EventRemoteMediaState, snapshot)
}

// remoteMediaLocked copies the remote mute map. Caller holds s.mu.
func (s *CallSession) remoteMediaLocked() map[string]MediaState {
	out := make(map[string]MediaState, len(s.remoteMedia))
	for k, v := range s.remoteMedia {
		out[k] = v
	}
	return out
}
