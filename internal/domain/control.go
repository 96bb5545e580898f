package domain

import (
	"strconv"
	"time"
)

// Direction values double as wire codes on the data channel and the serial link.
type Direction byte

const (
	Left Direction = iota
	Right
	Down
	Up
	Calibrate
)

func (d Direction) String() string {
	switch d {
	case Left:
		return "left"
	case Right:
		return "right"
	case Down:
		return "down"
	case Up:
		return "up"
	case Calibrate:
		return "calibrate"
	}
	return "unknown(" + strconv.Itoa(int(d)) + ")"
}

func (d Direction) Valid() bool { return d <= Calibrate }

// Payload is the data channel form: the decimal code as ASCII.
func (d Direction) Payload() []byte {
	return []byte(strconv.Itoa(int(d)))
}

func DirectionFromByte(b byte) (Direction, error) {
	d := Direction(b)
	if !d.Valid() {
		return 0, ErrUnknownDirection
	}
	return d, nil
}

func ParseDirectionPayload(p []byte) (Direction, error) {
	n, err := strconv.Atoi(string(p))
	if err != nil || n < 0 || n > int(Calibrate) {
		return 0, ErrUnknownDirection
	}
	return Direction(n), nil
}

type ControlEvent struct {
	Direction Direction
	At        time.Time
}

type OrientationSample struct {
	Values [3]float64
	At     time.Time
}

type GravitySample struct {
	Values [3]float64
	At     time.Time
}
