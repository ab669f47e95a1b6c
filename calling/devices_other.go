/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 The RoomTalk Authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

//go:build !linux || !cgo

package calling

import (
	"context"
	"errors"
)

// errNoCapture is returned on platforms without a capture backend.
// Camera/mic capture via pion/mediadevices needs platform drivers (V4L2,
// malgo, X11) that are wired up for Linux only; embedders on other
// platforms supply their own MediaGateway.
var errNoCapture = errors.New("media capture is not supported on this platform")

type deviceGateway struct{}

// NewDeviceGateway creates the platform media gateway. On non-Linux
// platforms every acquisition fails with a DeviceError so sessions revert
// to Idle through the normal failed-to-start path.
func NewDeviceGateway(config *GatewayConfig) (MediaGateway, error) {
	if config == nil {
		config = DefaultGatewayConfig()
	}
	_ = config
	return &deviceGateway{}, nil
}

// Acquire implements MediaGateway.
func (g *deviceGateway) Acquire(ctx context.Context, constraints MediaConstraints) (*MediaStreamHandle, error) {
	return nil, newDeviceError("acquire media", "", errNoCapture)
}

// AcquireDisplay implements MediaGateway.
func (g *deviceGateway) AcquireDisplay(ctx context.Context) (*MediaStreamHandle, error) {
	return nil, newDeviceError("acquire display", "", errNoCapture)
}
