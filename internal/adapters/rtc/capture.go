package rtc

import "github.com/pion/webrtc/v4"

// CaptureSource provides local camera and microphone tracks.
type CaptureSource interface {
	// Populate registers the codecs the encoders produce.
	Populate(m *webrtc.MediaEngine) error
	// Open starts capture on the current devices. audio may be nil.
	Open() (video webrtc.TrackLocal, audio webrtc.TrackLocal, err error)
	// Next moves video capture to the next camera.
	Next() (webrtc.TrackLocal, error)
	SetMaxBitrate(kbps int)
	Close() error
}
