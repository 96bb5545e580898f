//go:build !linux || !cgo

package capture

import "github.com/ArduinoAndWebRTC/webrtc/internal/adapters/rtc"

func New(Config) (rtc.CaptureSource, error) {
	return nil, ErrUnsupported
}
