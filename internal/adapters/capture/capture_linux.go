//go:build linux && cgo

package capture

import (
	"fmt"
	"sync"

	"github.com/ArduinoAndWebRTC/webrtc/internal/adapters/rtc"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type source struct {
	cfg      Config
	vp8      vpx.VP8Params
	opus     opus.Params
	selector *mediadevices.CodecSelector

	mu      sync.Mutex
	cameras []string
	current int
	video   mediadevices.Track
	audio   mediadevices.Track
}

// New prepares VP8 and Opus encoders. Devices are not touched until Open.
func New(cfg Config) (rtc.CaptureSource, error) {
	if cfg.BitrateKbps <= 0 {
		cfg.BitrateKbps = DefaultBitrateKbps
	}
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = 640
	}
	if cfg.MaxHeight <= 0 {
		cfg.MaxHeight = 480
	}

	s := &source{cfg: cfg}
	var err error
	if s.vp8, err = vpx.NewVP8Params(); err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	s.vp8.BitRate = cfg.BitrateKbps * 1000
	if s.opus, err = opus.NewParams(); err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	s.selector = mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&s.vp8),
		mediadevices.WithAudioEncoders(&s.opus),
	)
	return s, nil
}

func (s *source) Populate(m *webrtc.MediaEngine) error {
	s.selector.Populate(m)
	return nil
}

func (s *source) videoConstraints(deviceID string) func(*mediadevices.MediaTrackConstraints) {
	return func(c *mediadevices.MediaTrackConstraints) {
		if deviceID != "" {
			c.DeviceID = prop.StringExact(deviceID)
		}
		// Raw formats only; some MJPEG nodes produce frames the VP8 encoder rejects.
		c.FrameFormat = prop.FrameFormatOneOf{frame.FormatYUYV, frame.FormatI420, frame.FormatI444, frame.FormatRGBA}
		c.Width = prop.IntRanged{Max: s.cfg.MaxWidth}
		c.Height = prop.IntRanged{Max: s.cfg.MaxHeight}
	}
}

func (s *source) Open() (webrtc.TrackLocal, webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cameras = s.cameras[:0]
	for _, d := range mediadevices.EnumerateDevices() {
		log.Debug().Str("module", "capture").Str("kind", fmt.Sprint(d.Kind)).Str("label", d.Label).Msg("media device")
		if d.Kind == mediadevices.VideoInput {
			s.cameras = append(s.cameras, d.DeviceID)
		}
	}
	if len(s.cameras) == 0 {
		return nil, nil, fmt.Errorf("no camera found")
	}

	constraints := mediadevices.MediaStreamConstraints{
		Video: s.videoConstraints(s.cameras[s.current%len(s.cameras)]),
		Codec: s.selector,
	}
	if s.cfg.Audio {
		constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}
	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil && s.cfg.Audio {
		log.Warn().Err(err).Str("module", "capture").Msg("video+audio failed, trying video only")
		constraints.Audio = nil
		stream, err = mediadevices.GetUserMedia(constraints)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get user media: %w", err)
	}

	for _, t := range stream.GetTracks() {
		t.OnEnded(func(err error) {
			if err != nil {
				log.Warn().Err(err).Str("module", "capture").Msg("local track ended")
			}
		})
		switch t.Kind() {
		case webrtc.RTPCodecTypeVideo:
			s.video = t
		case webrtc.RTPCodecTypeAudio:
			s.audio = t
		}
	}
	log.Info().Str("module", "capture").Int("cameras", len(s.cameras)).Bool("audio", s.audio != nil).Msg("capture open")
	if s.audio == nil {
		return s.video, nil, nil
	}
	return s.video, s.audio, nil
}

func (s *source) Next() (webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cameras) < 2 {
		return nil, ErrSingleCamera
	}
	next := (s.current + 1) % len(s.cameras)
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: s.videoConstraints(s.cameras[next]),
		Codec: s.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", next, err)
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("camera %d produced no video track", next)
	}
	if s.video != nil {
		_ = s.video.Close()
	}
	s.video = tracks[0]
	s.current = next
	log.Info().Str("module", "capture").Int("camera", next).Msg("switched camera")
	return s.video, nil
}

// SetMaxBitrate takes effect on the next encoder built, i.e. on Open or Next.
func (s *source) SetMaxBitrate(kbps int) {
	if kbps <= 0 {
		return
	}
	s.mu.Lock()
	s.vp8.BitRate = kbps * 1000
	s.mu.Unlock()
}

func (s *source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.video != nil {
		_ = s.video.Close()
		s.video = nil
	}
	if s.audio != nil {
		_ = s.audio.Close()
		s.audio = nil
	}
	return nil
}
