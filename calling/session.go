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

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/roomtalk/roomtalk-go-sdk/signaling"
)

// SessionConfig holds the collaborators and identity of a CallSession.
type SessionConfig struct {
	// RoomID scopes all signaling for this session. Immutable.
	RoomID string

	// LocalUser is the identity key under which this party's mute state is
	// published.
	LocalUser string

	// Channel carries signaling messages to and from the remote party.
	Channel signaling.Channel

	// Gateway acquires local capture devices.
	Gateway MediaGateway

	// Link configures the peer connections this session creates. Nil means
	// DefaultLinkConfig.
	Link *LinkConfig

	// NewLink overrides peer link construction. Tests use it to substitute
	// an in-process fake; when nil, NewPeerLink(Link) is used.
	NewLink func() (Link, error)
}

// CallSession drives a two-party call through its lifecycle:
// Idle → Outgoing/Ringing → Active → Ended → Idle. One session is live per
// room; it is owned by whatever composition root manages the call UI, and
// all mutable call state lives inside it.
//
// Inbound signaling handlers run on the channel's read goroutine and
// negotiation callbacks on Pion's; both synchronize on the session mutex.
// Deferred effects (remote stream attachment, link failure, capture-ended)
// are enqueued onto the session's task queue and consumed by the session's
// own goroutine, so no state update is issued mid-negotiation-callback.
//
// Each call attempt has a generation number; cleanup bumps it, and any
// asynchronous completion that finishes afterwards sees the mismatch and is
// discarded instead of being applied to a stale attempt.
type CallSession struct {
	roomID    string
	localUser string
	channel   signaling.Channel
	gateway   MediaGateway
	newLink   func() (Link, error)

	// Emitter delivers session events to the embedding application.
	Emitter *EventEmitter

	mu            sync.Mutex
	state         State
	generation    uint64
	correlationID string
	remoteParty   string

	link            Link
	localStream     *MediaStreamHandle
	screenStream    *MediaStreamHandle
	remoteStream    *MediaStreamHandle
	earlyCandidates []webrtc.ICECandidateInit

	localMedia      map[string]MediaState
	remoteMedia     map[string]MediaState
	isScreenSharing bool
	remoteSharing   bool

	tasks     chan func()
	done      chan struct{}
	closeOnce sync.Once
}

// NewCallSession creates a session for one room, binds its handler table to
// the signaling channel, and starts its task loop. Call Close when the
// owning UI goes away.
func NewCallSession(config *SessionConfig) (*CallSession, error) {
	if config == nil || config.RoomID == "" {
		return nil, fmt.Errorf("session config with a room ID is required")
	}
	if config.Channel == nil {
		return nil, fmt.Errorf("signaling channel is required")
	}
	if config.Gateway == nil {
		return nil, fmt.Errorf("media gateway is required")
	}

	s := &CallSession{
		roomID:      config.RoomID,
		localUser:   config.LocalUser,
		channel:     config.Channel,
		gateway:     config.Gateway,
		newLink:     config.NewLink,
		Emitter:     NewEventEmitter(),
		state:       StateIdle,
		localMedia:  make(map[string]MediaState),
		remoteMedia: make(map[string]MediaState),
		tasks:       make(chan func(), 32),
		done:        make(chan struct{}),
	}
	if s.newLink == nil {
		linkConfig := config.Link
		s.newLink = func() (Link, error) {
			l, err := NewPeerLink(linkConfig)
			if err != nil {
				return nil, err
			}
			return l, nil
		}
	}

	s.channel.Bind(s.roomID, signaling.HandlerTable{
		signaling.MessageRinging:      s.handleRinging,
		signaling.MessageReceiveCall:  s.handleReceiveCall,
		signaling.MessageCallAnswered: s.handleCallAnswered,
		signaling.MessageICECandidate: s.handleRemoteCandidate,
		signaling.MessageCallEnded:    s.handleCallEnded,
		signaling.MessageDeclineCall:  s.handleCallEnded,
		signaling.MessageAudioMuted:   s.handleAudioMuted,
		signaling.MessageVideoMuted:   s.handleVideoMuted,
		signaling.MessageScreenShare:  s.handleRemoteScreenShare,
	})

	go s.loop()
	return s, nil
}

// Close unbinds the session from the channel, tears down any live call and
// stops the task loop. The session must not be used afterwards.
func (s *CallSession) Close() {
	s.channel.Unbind()

	s.mu.Lock()
	gen := s.generation
	state := s.state
	s.mu.Unlock()
	if state != StateIdle {
		s.teardown(gen)
	}

	s.closeOnce.Do(func() { close(s.done) })
}

// ---- Reactive surface ----

// State returns the current call state.
func (s *CallSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemotePartyName returns the display name of the remote party, empty
// outside a call.
func (s *CallSession) RemotePartyName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteParty
}

// CorrelationID returns the identifier of the current call attempt, empty
// outside one.
func (s *CallSession) CorrelationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.correlationID
}

// LocalStream returns the local capture handle, nil when no call media is
// live.
func (s *CallSession) LocalStream() *MediaStreamHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localStream
}

// RemoteStream returns the handle assembled from remote tracks, nil until
// the first remote track arrives.
func (s *CallSession) RemoteStream() *MediaStreamHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteStream
}

// IsScreenSharing reports whether local display capture is live and
// substituted onto the outgoing video track.
func (s *CallSession) IsScreenSharing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isScreenSharing
}

// RemoteScreenSharing reports whether the remote party announced an active
// screen share.
func (s *CallSession) RemoteScreenSharing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteSharing
}

// LocalMediaState returns this party's published mute flags.
func (s *CallSession) LocalMediaState() MediaState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localMedia[s.localUser]
}

// RemoteMediaState returns a copy of the per-user remote mute map.
func (s *CallSession) RemoteMediaState() map[string]MediaState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteMediaLocked()
}

// ---- Call control ----

// StartCall acquires local media, creates a peer link and sends the offer
// as callUser. On device failure the session reverts to Idle without
// sending any signaling message; the remote party never saw a call.
func (s *CallSession) StartCall(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("cannot start call in state %s", s.state)
	}
	s.state = StateOutgoing
	s.correlationID = uuid.NewString()
	gen := s.generation
	correlationID := s.correlationID
	s.mu.Unlock()

	log.Info().Str("module", "calling").Str("room", s.roomID).Str("correlation_id", correlationID).Msg("starting call")
	s.Emitter.Emit(EventStateChanged, StateOutgoing)

	stream, err := s.gateway.Acquire(ctx, MediaConstraints{Audio: true, Video: true})
	if err != nil {
		s.mu.Lock()
		if s.generation == gen && s.state == StateOutgoing {
			s.state = StateIdle
			s.correlationID = ""
		}
		s.mu.Unlock()
		log.Warn().Str("module", "calling").Str("room", s.roomID).Err(err).Msg("media acquisition failed")
		s.Emitter.Emit(EventStateChanged, StateIdle)
		s.Emitter.Emit(EventCallError, err)
		return err
	}

	s.mu.Lock()
	if s.generation != gen || s.state != StateOutgoing {
		s.mu.Unlock()
		// Call was declined or ended while the devices were opening.
		stream.StopTracks()
		return nil
	}
	link, err := s.newLink()
	if err != nil {
		s.state = StateIdle
		s.correlationID = ""
		s.mu.Unlock()
		stream.StopTracks()
		s.Emitter.Emit(EventStateChanged, StateIdle)
		return newNegotiationError("create peer link", s.roomID, err)
	}
	s.attachLinkLocked(link, gen)
	s.localStream = stream
	s.mu.Unlock()

	for _, track := range stream.Tracks() {
		if err := link.AddLocalTrack(track); err != nil {
			return s.failAttempt(gen, newNegotiationError("attach local track", s.roomID, err))
		}
	}
	s.Emitter.Emit(EventLocalStream, stream)

	offer, err := link.CreateOffer(ctx)
	if err != nil {
		return s.failAttempt(gen, newNegotiationError("create offer", s.roomID, err))
	}

	s.mu.Lock()
	stale := s.generation != gen || s.state != StateOutgoing
	s.mu.Unlock()
	if stale {
		return nil
	}

	msg := &signaling.Message{Type: signaling.MessageCallUser, RoomID: s.roomID, Offer: &offer}
	if err := s.channel.Send(ctx, msg); err != nil {
		return s.failAttempt(gen, newSignalingError("send callUser", s.roomID, err))
	}
	return nil
}

// AcceptCall answers a ringing call: acquires local media, attaches it to
// the link created when the offer arrived, and sends the answer.
func (s *CallSession) AcceptCall(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRinging {
		s.mu.Unlock()
		return fmt.Errorf("cannot accept call in state %s", s.state)
	}
	if s.link == nil {
		s.mu.Unlock()
		return fmt.Errorf("no offer received yet")
	}
	gen := s.generation
	link := s.link
	s.mu.Unlock()

	stream, err := s.gateway.Acquire(ctx, MediaConstraints{Audio: true, Video: true})
	if err != nil {
		log.Warn().Str("module", "calling").Str("room", s.roomID).Err(err).Msg("media acquisition failed")
		s.Emitter.Emit(EventCallError, err)
		s.teardown(gen)
		return err
	}

	s.mu.Lock()
	if s.generation != gen || s.state != StateRinging {
		s.mu.Unlock()
		stream.StopTracks()
		return nil
	}
	s.localStream = stream
	s.mu.Unlock()

	for _, track := range stream.Tracks() {
		if err := link.AddLocalTrack(track); err != nil {
			return s.failAttempt(gen, newNegotiationError("attach local track", s.roomID, err))
		}
	}
	s.Emitter.Emit(EventLocalStream, stream)

	answer, err := link.CreateAnswer(ctx)
	if err != nil {
		return s.failAttempt(gen, newNegotiationError("create answer", s.roomID, err))
	}

	s.mu.Lock()
	if s.generation != gen || s.state != StateRinging {
		s.mu.Unlock()
		return nil
	}
	s.state = StateActive
	s.mu.Unlock()

	msg := &signaling.Message{Type: signaling.MessageAnswerCall, RoomID: s.roomID, Answer: &answer}
	if err := s.channel.Send(ctx, msg); err != nil {
		return s.failAttempt(gen, newSignalingError("send answerCall", s.roomID, err))
	}

	log.Info().Str("module", "calling").Str("room", s.roomID).Msg("call accepted")
	s.Emitter.Emit(EventStateChanged, StateActive)
	return nil
}

// DeclineCall rejects a ringing call, releases any partially-created link
// and notifies the caller. No-op outside Ringing; like EndCall, the
// outbound message is sent only by the trigger that actually performed the
// cleanup, so a racing remote hang-up cannot produce a spurious decline.
func (s *CallSession) DeclineCall() {
	s.mu.Lock()
	if s.state != StateRinging {
		s.mu.Unlock()
		return
	}
	gen := s.generation
	s.mu.Unlock()

	if !s.teardown(gen) {
		return
	}
	msg := &signaling.Message{Type: signaling.MessageDeclineCall, RoomID: s.roomID}
	if err := s.channel.Send(context.Background(), msg); err != nil {
		log.Warn().Str("module", "calling").Str("room", s.roomID).Err(err).Msg("decline send failed")
	}
}

// EndCall hangs up the active call. A no-op unless the call is Active or
// already ending; calling it twice has no further effect, and the endCall
// message is sent only by whichever trigger actually performed the cleanup.
func (s *CallSession) EndCall() {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	gen := s.generation
	s.mu.Unlock()

	if !s.teardown(gen) {
		return
	}
	msg := &signaling.Message{Type: signaling.MessageEndCall, RoomID: s.roomID}
	if err := s.channel.Send(context.Background(), msg); err != nil {
		log.Warn().Str("module", "calling").Str("room", s.roomID).Err(err).Msg("endCall send failed")
	}
}

// ---- Inbound signaling ----

func (s *CallSession) handleRinging(msg *signaling.Message) {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		log.Debug().Str("module", "calling").Str("room", s.roomID).Msg("ringing ignored, call in progress")
		return
	}
	s.state = StateRinging
	s.correlationID = uuid.NewString()
	s.remoteParty = msg.Caller
	s.mu.Unlock()

	log.Info().Str("module", "calling").Str("room", s.roomID).Str("caller", msg.Caller).Msg("incoming call")
	s.Emitter.Emit(EventStateChanged, StateRinging)
	s.Emitter.Emit(EventIncomingCall, msg.Caller)
}

func (s *CallSession) handleReceiveCall(msg *signaling.Message) {
	if msg.Offer == nil {
		log.Warn().Str("module", "calling").Str("room", s.roomID).Msg("receiveCall without offer")
		return
	}

	s.mu.Lock()
	entered := false
	switch s.state {
	case StateIdle:
		// The server may deliver receiveCall before (or instead of) the
		// ringing notification; both are ring triggers.
		s.state = StateRinging
		s.correlationID = uuid.NewString()
		s.remoteParty = msg.Caller
		entered = true
	case StateRinging:
		if msg.Caller != "" {
			s.remoteParty = msg.Caller
		}
	default:
		s.mu.Unlock()
		log.Debug().Str("module", "calling").Str("room", s.roomID).Msg("receiveCall ignored, call in progress")
		return
	}
	gen := s.generation
	link := s.link
	if link == nil {
		created, err := s.newLink()
		if err != nil {
			s.state = StateIdle
			s.remoteParty = ""
			s.correlationID = ""
			s.mu.Unlock()
			s.Emitter.Emit(EventStateChanged, StateIdle)
			s.Emitter.Emit(EventCallError, newNegotiationError("create peer link", s.roomID, err))
			return
		}
		s.attachLinkLocked(created, gen)
		link = created
	}
	early := s.earlyCandidates
	s.earlyCandidates = nil
	s.mu.Unlock()

	if entered {
		s.Emitter.Emit(EventStateChanged, StateRinging)
		s.Emitter.Emit(EventIncomingCall, msg.Caller)
	}

	if err := link.SetRemoteDescription(*msg.Offer); err != nil {
		_ = s.failAttempt(gen, newNegotiationError("set remote offer", s.roomID, err))
		return
	}
	// Candidates that raced ahead of the offer; the link buffers them
	// itself if the description is somehow still pending.
	for _, c := range early {
		link.AddRemoteCandidate(c)
	}
}

func (s *CallSession) handleCallAnswered(msg *signaling.Message) {
	if msg.Answer == nil {
		log.Warn().Str("module", "calling").Str("room", s.roomID).Msg("callAnswered without answer")
		return
	}

	s.mu.Lock()
	if s.state != StateOutgoing || s.link == nil {
		s.mu.Unlock()
		log.Debug().Str("module", "calling").Str("room", s.roomID).Msg("callAnswered ignored")
		return
	}
	gen := s.generation
	link := s.link
	s.mu.Unlock()

	if err := link.SetRemoteDescription(*msg.Answer); err != nil {
		_ = s.failAttempt(gen, newNegotiationError("set remote answer", s.roomID, err))
		return
	}

	s.mu.Lock()
	if s.generation != gen || s.state != StateOutgoing {
		s.mu.Unlock()
		return
	}
	s.state = StateActive
	s.mu.Unlock()

	log.Info().Str("module", "calling").Str("room", s.roomID).Msg("call answered")
	s.Emitter.Emit(EventStateChanged, StateActive)
}

func (s *CallSession) handleRemoteCandidate(msg *signaling.Message) {
	if msg.Candidate == nil {
		return
	}

	s.mu.Lock()
	link := s.link
	if link == nil {
		if s.state != StateIdle {
			// Candidate outran the offer; hold it until the link exists.
			s.earlyCandidates = append(s.earlyCandidates, *msg.Candidate)
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	link.AddRemoteCandidate(*msg.Candidate)
}

func (s *CallSession) handleCallEnded(msg *signaling.Message) {
	s.mu.Lock()
	gen := s.generation
	state := s.state
	s.mu.Unlock()
	if state == StateIdle {
		// Redundant or late; cleanup already ran.
		return
	}
	log.Info().Str("module", "calling").Str("room", s.roomID).Str("signal", string(msg.Type)).Msg("call ended by remote")
	s.teardown(gen)
}

// ---- Internals ----

// attachLinkLocked wires link callbacks for the given attempt generation
// and installs the link. Caller holds s.mu.
func (s *CallSession) attachLinkLocked(link Link, gen uint64) {
	s.link = link

	link.OnLocalCandidate(func(c webrtc.ICECandidateInit) {
		candidate := c
		msg := &signaling.Message{Type: signaling.MessageICECandidate, RoomID: s.roomID, Candidate: &candidate}
		if err := s.channel.Send(context.Background(), msg); err != nil {
			log.Warn().Str("module", "calling").Str("room", s.roomID).Err(err).Msg("candidate send failed")
		}
	})
	link.OnRemoteTrack(func(track *webrtc.TrackRemote) {
		s.enqueue(func() { s.attachRemoteTrack(gen, track) })
	})
	link.OnFailure(func() {
		s.enqueue(func() { s.handleLinkFailure(gen) })
	})
}

// attachRemoteTrack runs on the session's task turn, never inside the
// negotiation callback that observed the track.
func (s *CallSession) attachRemoteTrack(gen uint64, track *webrtc.TrackRemote) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	if s.remoteStream == nil {
		s.remoteStream = newRemoteHandle()
	}
	handle := s.remoteStream
	s.mu.Unlock()

	handle.addRemoteTrack(track)
	s.Emitter.Emit(EventRemoteStream, handle)
}

func (s *CallSession) handleLinkFailure(gen uint64) {
	if s.teardown(gen) {
		log.Warn().Str("module", "calling").Str("room", s.roomID).Msg("connection failed, call torn down")
		s.Emitter.Emit(EventCallError, newConnectivityError(s.roomID))
	}
}

// failAttempt tears down the given attempt and reports err. Negotiation
// failures are terminal: same cleanup as a remote hang-up, no retry.
func (s *CallSession) failAttempt(gen uint64, err error) error {
	if s.teardown(gen) {
		log.Warn().Str("module", "calling").Str("room", s.roomID).Err(err).Msg("call attempt failed")
		s.Emitter.Emit(EventCallError, err)
		return err
	}
	// A concurrent trigger already cleaned up; this completion is stale.
	return nil
}

// teardown runs the terminal cleanup for attempt gen: close the link, stop
// every local track, clear the remote stream, clear screen-share state and
// reset mute flags. It runs at most once per attempt: the generation bump
// makes every racing trigger (local hang-up, remote hang-up, decline,
// failure) a no-op after the first.
func (s *CallSession) teardown(gen uint64) bool {
	s.mu.Lock()
	if s.generation != gen || s.state == StateIdle {
		s.mu.Unlock()
		return false
	}
	s.generation++
	s.state = StateEnded

	link := s.link
	s.link = nil
	local := s.localStream
	s.localStream = nil
	screen := s.screenStream
	s.screenStream = nil
	s.remoteStream = nil
	s.remoteParty = ""
	s.correlationID = ""
	s.earlyCandidates = nil
	s.localMedia = make(map[string]MediaState)
	s.remoteMedia = make(map[string]MediaState)
	s.isScreenSharing = false
	s.remoteSharing = false

	s.state = StateIdle
	s.mu.Unlock()

	if link != nil {
		link.Close()
	}
	if local != nil {
		local.StopTracks()
	}
	if screen != nil {
		screen.StopTracks()
	}

	log.Info().Str("module", "calling").Str("room", s.roomID).Msg("call cleaned up")
	s.Emitter.Emit(EventStateChanged, StateIdle)
	return true
}

func (s *CallSession) loop() {
	for {
		select {
		case <-s.done:
			return
		case task := <-s.tasks:
			task()
		}
	}
}

func (s *CallSession) enqueue(task func()) {
	select {
	case s.tasks <- task:
	case <-s.done:
	}
}
