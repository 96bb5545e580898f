// Package control turns sensor samples into steering events and moves them between
// the data channel and the serial link.
package control

import (
	"context"
	"math"
	"time"

	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
	"github.com/rs/zerolog/log"
)

// Threshold is the hysteresis band, in rounded sensor units.
const Threshold = 1

// axisState is the previous/current rounded reading of one axis.
type axisState struct {
	previous int
	current  int
}

// step records a new reading and returns current minus previous.
// The previous reading always advances, whether or not the caller emits.
func (a *axisState) step(reading int) int {
	a.current = reading
	delta := a.current - a.previous
	a.previous = a.current
	return delta
}

// Source is a hysteresis tracker over the orientation stream, with the up/down
// sense taken from the last gravity reading. It is not safe for concurrent use;
// Run confines it to one goroutine.
type Source struct {
	leftRight axisState
	upDown    axisState
	gravity   int
}

func NewSource() *Source {
	return &Source{}
}

// roundHalfUp rounds .5 toward positive infinity for negative readings too.
func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

// Orientation consumes one orientation sample: axis 0 steers left/right and
// axis 2 steers up/down. It returns zero, one or two events.
func (s *Source) Orientation(sample domain.OrientationSample) []domain.ControlEvent {
	var out []domain.ControlEvent

	lr := s.leftRight.step(roundHalfUp(sample.Values[0]))
	switch {
	case lr > Threshold:
		out = append(out, domain.ControlEvent{Direction: domain.Left, At: sample.At})
	case lr < -Threshold:
		out = append(out, domain.ControlEvent{Direction: domain.Right, At: sample.At})
	}

	ud := s.upDown.step(roundHalfUp(sample.Values[2]))
	if d, ok := verticalDirection(ud, s.gravity); ok {
		out = append(out, domain.ControlEvent{Direction: d, At: sample.At})
	}
	return out
}

// verticalDirection flips with the gravity sign so the rig moves the same way
// whichever face of the device points up.
func verticalDirection(delta, gravity int) (domain.Direction, bool) {
	switch {
	case gravity > 0 && delta < -Threshold, gravity < 0 && delta > Threshold:
		return domain.Down, true
	case gravity > 0 && delta > Threshold, gravity < 0 && delta < -Threshold:
		return domain.Up, true
	}
	return 0, false
}

func (s *Source) Gravity(sample domain.GravitySample) {
	s.gravity = roundHalfUp(sample.Values[2])
}

func (s *Source) Calibrate(at time.Time) domain.ControlEvent {
	return domain.ControlEvent{Direction: domain.Calibrate, At: at}
}

// Run owns the tracker state and emits events on out until ctx is done or the
// orientation stream closes. A closed gravity or calibrate stream is tolerated.
func (s *Source) Run(
	ctx context.Context,
	orientation <-chan domain.OrientationSample,
	gravity <-chan domain.GravitySample,
	calibrate <-chan time.Time,
	out chan<- domain.ControlEvent,
) error {
	emit := func(ev domain.ControlEvent) error {
		select {
		case out <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case sample, ok := <-orientation:
			if !ok {
				log.Info().Str("module", "control.source").Msg("orientation stream closed")
				return nil
			}
			for _, ev := range s.Orientation(sample) {
				if err := emit(ev); err != nil {
					return nil
				}
			}
		case sample, ok := <-gravity:
			if !ok {
				gravity = nil
				continue
			}
			s.Gravity(sample)
		case at, ok := <-calibrate:
			if !ok {
				calibrate = nil
				continue
			}
			if err := emit(s.Calibrate(at)); err != nil {
				return nil
			}
		}
	}
}
