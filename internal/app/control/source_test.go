package control

import (
	"context"
	"testing"
	"time"

	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orientation(x, z float64) domain.OrientationSample {
	return domain.OrientationSample{Values: [3]float64{x, 0, z}, At: time.Unix(100, 0)}
}

func gravity(z float64) domain.GravitySample {
	return domain.GravitySample{Values: [3]float64{0, 0, z}}
}

func directions(evs []domain.ControlEvent) []domain.Direction {
	out := make([]domain.Direction, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Direction)
	}
	return out
}

func TestLeftRightHysteresis(t *testing.T) {
	tests := []struct {
		name string
		from float64
		to   float64
		want []domain.Direction
	}{
		{"left above threshold", 10, 12, []domain.Direction{domain.Left}},
		{"right below threshold", 10, 8, []domain.Direction{domain.Right}},
		{"plus one is jitter", 10, 11, []domain.Direction{}},
		{"minus one is jitter", 10, 9, []domain.Direction{}},
		{"rounds before comparing", 10, 11.4, []domain.Direction{}},
		{"half rounds up", 10, 11.5, []domain.Direction{domain.Left}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSource()
			s.Orientation(orientation(tt.from, 0))
			got := s.Orientation(orientation(tt.to, 0))
			assert.Equal(t, tt.want, directions(got))
		})
	}
}

func TestUpDownFollowsGravitySign(t *testing.T) {
	tests := []struct {
		name    string
		gravity float64
		delta   float64
		want    []domain.Direction
	}{
		{"falling with gravity positive", 9.8, -2, []domain.Direction{domain.Down}},
		{"falling with gravity negative", -9.8, -2, []domain.Direction{domain.Up}},
		{"rising with gravity positive", 9.8, 2, []domain.Direction{domain.Up}},
		{"rising with gravity negative", -9.8, 2, []domain.Direction{domain.Down}},
		{"no gravity reading", 0, 2, []domain.Direction{}},
		{"inside band", 9.8, 1, []domain.Direction{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSource()
			s.Gravity(gravity(tt.gravity))
			s.Orientation(orientation(0, 40))
			got := s.Orientation(orientation(0, 40+tt.delta))
			assert.Equal(t, tt.want, directions(got))
		})
	}
}

func TestPreviousReadingAlwaysAdvances(t *testing.T) {
	s := NewSource()
	// Slow drift: every step is inside the band, so nothing fires even though
	// the total movement is large.
	for x := 0.0; x <= 10; x++ {
		assert.Empty(t, s.Orientation(orientation(x, 0)))
	}

	assert.Equal(t, []domain.Direction{domain.Left}, directions(s.Orientation(orientation(15, 0))))
	assert.Empty(t, s.Orientation(orientation(16, 0)))
}

func TestBothAxesInOneSample(t *testing.T) {
	s := NewSource()
	s.Gravity(gravity(9.8))
	got := s.Orientation(orientation(-3, -3))
	assert.Equal(t, []domain.Direction{domain.Right, domain.Down}, directions(got))
	assert.Equal(t, time.Unix(100, 0), got[0].At)
}

func TestRoundHalfUp(t *testing.T) {
	assert.Equal(t, 3, roundHalfUp(2.5))
	assert.Equal(t, -2, roundHalfUp(-2.5))
	assert.Equal(t, -3, roundHalfUp(-2.6))
	assert.Equal(t, 0, roundHalfUp(0.49))
}

func TestCalibrate(t *testing.T) {
	at := time.Unix(5, 0)
	ev := NewSource().Calibrate(at)
	assert.Equal(t, domain.ControlEvent{Direction: domain.Calibrate, At: at}, ev)
}

func TestSourceRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orient := make(chan domain.OrientationSample)
	grav := make(chan domain.GravitySample)
	tap := make(chan time.Time)
	out := make(chan domain.ControlEvent, 8)

	done := make(chan error, 1)
	go func() { done <- NewSource().Run(ctx, orient, grav, tap, out) }()

	grav <- gravity(-9.8)
	orient <- orientation(0, 0)
	orient <- orientation(3, -2)
	tap <- time.Unix(9, 0)
	close(grav)
	close(orient)

	require.NoError(t, <-done)
	close(out)

	var got []domain.Direction
	for ev := range out {
		got = append(got, ev.Direction)
	}
	assert.Equal(t, []domain.Direction{domain.Left, domain.Up, domain.Calibrate}, got)
}
