package control

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"
)

const (
	SensorOrientation = "orientation"
	SensorGravity     = "gravity"
)

// sampleLine is one NDJSON record of the sensor feed.
type sampleLine struct {
	Sensor string     `json:"sensor"`
	Values [3]float64 `json:"values"`
	// TS is unix milliseconds; zero means "now".
	TS int64 `json:"ts,omitempty"`
}

// ReadSamples decodes a newline delimited sensor feed into the two sample streams
// and closes both when r is exhausted or ctx is done. Malformed lines are skipped.
func ReadSamples(
	ctx context.Context,
	r io.Reader,
	orientation chan<- domain.OrientationSample,
	gravity chan<- domain.GravitySample,
) error {
	defer close(orientation)
	defer close(gravity)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec sampleLine
		if err := sonic.Unmarshal(line, &rec); err != nil {
			log.Debug().Err(err).Str("module", "control.feed").Msg("skip malformed sample")
			continue
		}
		at := time.Now()
		if rec.TS > 0 {
			at = time.UnixMilli(rec.TS)
		}

		switch rec.Sensor {
		case SensorOrientation:
			select {
			case orientation <- domain.OrientationSample{Values: rec.Values, At: at}:
			case <-ctx.Done():
				return nil
			}
		case SensorGravity:
			select {
			case gravity <- domain.GravitySample{Values: rec.Values, At: at}:
			case <-ctx.Done():
				return nil
			}
		default:
			log.Debug().Str("module", "control.feed").Str("sensor", rec.Sensor).Msg("unknown sensor")
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading sensor feed: %w", err)
	}
	return nil
}
