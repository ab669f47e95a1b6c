/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 The RoomTalk Authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

//go:build linux && cgo

package calling

import (
	"context"
	"sync"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // registers the V4L2 camera driver
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers the malgo microphone driver
	_ "github.com/pion/mediadevices/pkg/driver/screen"     // registers the X11 screen driver
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const (
	videoClockRate = 90000
	opusClockRate  = 48000
)

// deviceGateway captures camera/microphone and display media through
// pion/mediadevices (V4L2 + malgo + X11 on Linux).
type deviceGateway struct {
	config   *GatewayConfig
	selector *mediadevices.CodecSelector
}

// NewDeviceGateway creates the platform media gateway. Pass nil to use
// DefaultGatewayConfig.
func NewDeviceGateway(config *GatewayConfig) (MediaGateway, error) {
	if config == nil {
		config = DefaultGatewayConfig()
	}

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, newDeviceError("init VP8 encoder", "", err)
	}
	vpxParams.BitRate = config.VideoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, newDeviceError("init Opus encoder", "", err)
	}

	return &deviceGateway{
		config: config,
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// Acquire implements MediaGateway.
func (g *deviceGateway) Acquire(ctx context.Context, constraints MediaConstraints) (*MediaStreamHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, newDeviceError("acquire media", "", err)
	}

	mdConstraints := mediadevices.MediaStreamConstraints{Codec: g.selector}
	if constraints.Video {
		mdConstraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			// Raw formats only; some cameras expose an MJPEG node that
			// produces malformed frames and poisons the VP8 encoder.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: g.config.MaxWidth}
			c.Height = prop.IntRanged{Max: g.config.MaxHeight}
		}
	}
	if constraints.Audio {
		mdConstraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}

	stream, err := mediadevices.GetUserMedia(mdConstraints)
	if err != nil {
		return nil, newDeviceError("acquire media", "", err)
	}

	tracks, err := g.wrapTracks(stream.GetTracks(), "roomtalk-camera")
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "devices").Int("tracks", len(tracks)).Msg("user media captured")
	return NewLocalHandle(StreamKindCamera, tracks...), nil
}

// AcquireDisplay implements MediaGateway.
func (g *deviceGateway) AcquireDisplay(ctx context.Context) (*MediaStreamHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, newDeviceError("acquire display", "", err)
	}

	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: g.selector,
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.FrameRate = prop.FloatRanged{Max: float32(g.config.ScreenFrameRate)}
		},
	})
	if err != nil {
		return nil, newDeviceError("acquire display", "", err)
	}

	tracks, err := g.wrapTracks(stream.GetTracks(), "roomtalk-screen")
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "devices").Msg("display media captured")
	return NewLocalHandle(StreamKindScreen, tracks...), nil
}

func (g *deviceGateway) wrapTracks(sources []mediadevices.Track, streamID string) ([]LocalTrack, error) {
	var out []LocalTrack
	for _, src := range sources {
		wrapped, err := newDeviceTrack(src, streamID)
		if err != nil {
			for _, t := range out {
				t.Stop()
			}
			src.Close()
			return nil, newDeviceError("wrap track", "", err)
		}
		out = append(out, wrapped)
	}
	return out, nil
}

// deviceTrack pumps encoded frames from a mediadevices source into a static
// sample track. The pump drops frames while the track is disabled, which is
// what makes SetEnabled real mute gating rather than bookkeeping.
type deviceTrack struct {
	kind   webrtc.RTPCodecType
	source mediadevices.Track
	reader mediadevices.EncodedReadCloser
	out    *webrtc.TrackLocalStaticSample

	clockRate uint32

	mu      sync.Mutex
	enabled bool
	stopped bool
	onEnded func()
}

func newDeviceTrack(src mediadevices.Track, streamID string) (*deviceTrack, error) {
	var (
		capability webrtc.RTPCodecCapability
		id         string
		clockRate  uint32
	)
	switch src.Kind() {
	case webrtc.RTPCodecTypeVideo:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: videoClockRate}
		id = "video"
		clockRate = videoClockRate
	default:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2}
		id = "audio"
		clockRate = opusClockRate
	}

	reader, err := src.NewEncodedReader(capability.MimeType)
	if err != nil {
		return nil, err
	}

	out, err := webrtc.NewTrackLocalStaticSample(capability, id, streamID)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}

	t := &deviceTrack{
		kind:      src.Kind(),
		source:    src,
		reader:    reader,
		out:       out,
		clockRate: clockRate,
		enabled:   true,
	}
	go t.pump()
	return t, nil
}

func (t *deviceTrack) pump() {
	for {
		buf, release, err := t.reader.Read()
		if err != nil {
			t.mu.Lock()
			stopped := t.stopped
			ended := t.onEnded
			t.onEnded = nil
			t.mu.Unlock()
			if !stopped {
				log.Debug().Str("module", "devices").Err(err).Msg("capture source ended")
				if ended != nil {
					ended()
				}
			}
			return
		}

		if !t.Enabled() {
			release()
			continue
		}

		sample := media.Sample{
			Data:     buf.Data,
			Duration: time.Duration(buf.Samples) * time.Second / time.Duration(t.clockRate),
		}
		if err := t.out.WriteSample(sample); err != nil {
			log.Warn().Str("module", "devices").Err(err).Msg("sample write failed")
		}
		release()
	}
}

func (t *deviceTrack) Kind() webrtc.RTPCodecType { return t.kind }

func (t *deviceTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *deviceTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *deviceTrack) TrackLocal() webrtc.TrackLocal { return t.out }

func (t *deviceTrack) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

func (t *deviceTrack) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.mu.Unlock()

	_ = t.reader.Close()
	t.source.Close()
}
