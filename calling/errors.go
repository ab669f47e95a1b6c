/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 The RoomTalk Authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"errors"
	"fmt"
)

// CallError is the base error type for everything that can go wrong inside
// a call session. All specific error sub-types embed this struct, so
// consumers can use errors.As(err, &callErr) to access the operation and
// room regardless of the specific error type.
type CallError struct {
	// Op names the operation that failed, e.g. "create offer".
	Op string

	// RoomID is the room the failing session is bound to.
	RoomID string

	// Err is an optional wrapped error for errors.Unwrap support.
	Err error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	msg := "call error"
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.RoomID != "" {
		msg += " (room: " + e.RoomID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped error, if any.
func (e *CallError) Unwrap() error {
	return e.Err
}

// --- Specific error sub-types ---

// DeviceError is returned when camera, microphone or display capture
// cannot be acquired. A DeviceError before any offer was sent leaves the
// session Idle with no signaling message emitted.
type DeviceError struct {
	*CallError
}

// Unwrap returns the underlying CallError for errors.As traversal.
func (e *DeviceError) Unwrap() error { return e.CallError }

// NegotiationError is returned when SDP or candidate exchange fails.
// Negotiation errors are terminal for the attempt.
type NegotiationError struct {
	*CallError
}

// Unwrap returns the underlying CallError for errors.As traversal.
func (e *NegotiationError) Unwrap() error { return e.CallError }

// ConnectivityError reports an established connection degrading to failed.
// It reaches the application through EventCallError; the transport failure
// already tells the remote side, so no signaling message accompanies it.
type ConnectivityError struct {
	*CallError
}

// Unwrap returns the underlying CallError for errors.As traversal.
func (e *ConnectivityError) Unwrap() error { return e.CallError }

// SignalingError is returned when an outbound signaling message cannot be
// delivered.
type SignalingError struct {
	*CallError
}

// Unwrap returns the underlying CallError for errors.As traversal.
func (e *SignalingError) Unwrap() error { return e.CallError }

func newDeviceError(op, roomID string, err error) *DeviceError {
	return &DeviceError{&CallError{Op: op, RoomID: roomID, Err: err}}
}

func newNegotiationError(op, roomID string, err error) *NegotiationError {
	return &NegotiationError{&CallError{Op: op, RoomID: roomID, Err: err}}
}

func newConnectivityError(roomID string) *ConnectivityError {
	return &ConnectivityError{&CallError{Op: "peer connection", RoomID: roomID, Err: errors.New("connection failed")}}
}

func newSignalingError(op, roomID string, err error) *SignalingError {
	return &SignalingError{&CallError{Op: op, RoomID: roomID, Err: fmt.Errorf("signaling send: %w", err)}}
}
