package rtc

import (
	"fmt"
	"strings"

	"github.com/ArduinoAndWebRTC/webrtc/internal/logging"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// newAPI builds a pion API with either the capture encoder codecs or pion's defaults,
// the default interceptor chain, and pion logs routed into zerolog.
func newAPI(cfg Config) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if cfg.VideoCallEnabled && cfg.Capture != nil {
		if err := cfg.Capture.Populate(m); err != nil {
			return nil, fmt.Errorf("populate capture codecs: %w", err)
		}
	} else if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register default codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: logging.NewPionFactory(cfg.PionLogLevel)}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}

var audioCodecs = map[string]webrtc.RTPCodecCapability{
	"opus": {MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1"},
	"g722": {MimeType: webrtc.MimeTypeG722, ClockRate: 8000},
	"pcmu": {MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
	"pcma": {MimeType: webrtc.MimeTypePCMA, ClockRate: 8000},
}

// preferAudioCodec narrows a receive-only audio transceiver to the configured codec.
// Unknown names leave pion's default ordering alone.
func preferAudioCodec(tr *webrtc.RTPTransceiver, name string) {
	c, ok := audioCodecs[strings.ToLower(name)]
	if !ok {
		if name != "" {
			log.Warn().Str("module", "webrtc").Str("codec", name).Msg("unsupported audio codec preference")
		}
		return
	}
	if err := tr.SetCodecPreferences([]webrtc.RTPCodecParameters{{RTPCodecCapability: c}}); err != nil {
		log.Warn().Err(err).Str("module", "webrtc").Str("codec", name).Msg("set codec preferences")
	}
}
