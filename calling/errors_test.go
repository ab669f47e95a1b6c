/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 The RoomTalk Authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"errors"
	"strings"
	"testing"
)

func TestCallErrorTaxonomy(t *testing.T) {
	t.Run("sub-types unwrap to CallError", func(t *testing.T) {
		cause := errors.New("camera busy")
		err := newDeviceError("acquire media", "room-1", cause)

		var callErr *CallError
		if !errors.As(err, &callErr) {
			t.Fatal("Expected errors.As to find the base CallError")
		}
		if callErr.Op != "acquire media" || callErr.RoomID != "room-1" {
			t.Errorf("Unexpected base fields: %+v", callErr)
		}
		if !errors.Is(err, cause) {
			t.Error("Expected errors.Is to find the original cause")
		}
	})

	t.Run("sub-types stay distinct", func(t *testing.T) {
		err := newNegotiationError("create offer", "room-1", errors.New("sdp"))

		var negErr *NegotiationError
		if !errors.As(err, &negErr) {
			t.Error("Expected a NegotiationError")
		}
		var devErr *DeviceError
		if errors.As(err, &devErr) {
			t.Error("A NegotiationError must not match DeviceError")
		}
	})

	t.Run("message includes op and room", func(t *testing.T) {
		err := newSignalingError("send callUser", "room-1", errors.New("socket closed"))
		msg := err.Error()
		for _, want := range []string{"send callUser", "room-1", "socket closed"} {
			if !strings.Contains(msg, want) {
				t.Errorf("Expected %q in %q", want, msg)
			}
		}
	})

	t.Run("connectivity error carries the room", func(t *testing.T) {
		err := newConnectivityError("room-1")
		var callErr *CallError
		if !errors.As(err, &callErr) {
			t.Fatal("Expected the base CallError")
		}
		if callErr.RoomID != "room-1" {
			t.Errorf("Expected room-1, got %q", callErr.RoomID)
		}
	})
}
