/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 The RoomTalk Authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/roomtalk/roomtalk-go-sdk/signaling"
)

// StartScreenShare acquires display capture and substitutes its video
// track onto the existing sender, so no renegotiation happens and the
// remote side keeps receiving on the same video transceiver. Camera and
// screen are never sent at once. Requires an Active call; a second call
// while already sharing is a no-op.
func (s *CallSession) StartScreenShare(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return fmt.Errorf("screen share requires an active call")
	}
	if s.isScreenSharing {
		s.mu.Unlock()
		return nil
	}
	gen := s.generation
	s.mu.Unlock()

	display, err := s.gateway.AcquireDisplay(ctx)
	if err != nil {
		log.Warn().Str("module", "calling").Str("room", s.roomID).Err(err).Msg("display capture failed")
		s.Emitter.Emit(EventCallError, err)
		return err
	}

	s.mu.Lock()
	if s.generation != gen || s.state != StateActive {
		s.mu.Unlock()
		// Call ended while the capture picker was open.
		display.StopTracks()
		return nil
	}
	videos := display.VideoTracks()
	if len(videos) == 0 {
		s.mu.Unlock()
		display.StopTracks()
		return newDeviceError("acquire display", s.roomID, errors.New("capture produced no video track"))
	}
	screenTrack := videos[0]
	link := s.link
	s.mu.Unlock()

	if err := link.ReplaceVideoTrack(screenTrack); err != nil {
		display.StopTracks()
		return newNegotiationError("substitute screen track", s.roomID, err)
	}

	s.mu.Lock()
	if s.generation != gen || s.state != StateActive {
		s.mu.Unlock()
		display.StopTracks()
		return nil
	}
	s.screenStream = display
	s.isScreenSharing = true
	s.mu.Unlock()

	// The capture ending on its own (window closed, OS-level stop) must
	// restore the camera exactly like an explicit stop.
	screenTrack.OnEnded(func() {
		s.enqueue(func() { s.stopScreenShare(gen) })
	})

	sharing := true
	msg := &signaling.Message{Type: signaling.MessageScreenShare, RoomID: s.roomID, IsSharing: &sharing}
	if err := s.channel.Send(ctx, msg); err != nil {
		log.Warn().Str("module", "calling").Str("room", s.roomID).Err(err).Msg("screenShare announce failed")
	}

	log.Info().Str("module", "calling").Str("room", s.roomID).Msg("screen share started")
	s.Emitter.Emit(EventScreenShare, true)
	return nil
}

// StopScreenShare stops display capture and puts the camera track back on
// the sender. No-op when not sharing.
func (s *CallSession) StopScreenShare() {
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()
	s.stopScreenShare(gen)
}

func (s *CallSession) stopScreenShare(gen uint64) {
	s.mu.Lock()
	if s.generation != gen || !s.isScreenSharing {
		s.mu.Unlock()
		return
	}
	screen := s.screenStream
	s.screenStream = nil
	s.isScreenSharing = false
	var camera LocalTrack
	if s.localStream != nil {
		if videos := s.localStream.VideoTracks(); len(videos) > 0 {
			camera = videos[0]
		}
	}
	link := s.link
	s.mu.Unlock()

	if screen != nil {
		screen.StopTracks()
	}
	if link != nil {
		// camera may be nil when video capture never existed; the sender
		// then simply goes silent.
		if err := link.ReplaceVideoTrack(camera); err != nil {
			log.Warn().Str("module", "calling").Str("room", s.roomID).Err(err).Msg("camera restore failed")
		}
	}

	sharing := false
	msg := &signaling.Message{Type: signaling.MessageScreenShare, RoomID: s.roomID, IsSharing: &sharing}
	if err := s.channel.Send(context.Background(), msg); err != nil {
		log.Warn().Str("module", "calling").Str("room", s.roomID).Err(err).Msg("screenShare announce failed")
	}

	log.Info().Str("module", "calling").Str("room", s.roomID).Msg("screen share stopped")
	s.Emitter.Emit(EventScreenShare, false)
}

// handleRemoteScreenShare tracks the remote party's announced share state
// so the UI can re-layout before (or without) the substituted frames
// visibly changing.
func (s *CallSession) handleRemoteScreenShare(msg *signaling.Message) {
	if msg.IsSharing == nil {
		return
	}
	s.mu.Lock()
	s.remoteSharing = *msg.IsSharing
	s.mu.Unlock()

	s.Emitter.Emit(EventRemoteScreenShare, *msg.IsSharing)
}
