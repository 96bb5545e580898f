// Package capture opens the local camera and microphone for the camera role.
package capture

import "errors"

var (
	ErrUnsupported  = errors.New("media capture not supported on this build")
	ErrSingleCamera = errors.New("only one camera available")
)

const DefaultBitrateKbps = 1500

type Config struct {
	MaxWidth  int
	MaxHeight int
	// BitrateKbps seeds the VP8 encoder; <= 0 uses DefaultBitrateKbps.
	BitrateKbps int
	Audio       bool
}
