package control

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ArduinoAndWebRTC/webrtc/internal/core"
	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
	"github.com/ArduinoAndWebRTC/webrtc/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Bridge forwards control events to the open data channel. Events are never
// queued: with no open channel they are dropped.
//
// On the camera role the bridge also drives the rig link: bytes read from the
// link are republished on the data channel, and payloads received on the data
// channel are written to the link.
type Bridge struct {
	role     domain.DeviceRole
	debounce time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	channel core.DataChannel
	link    core.SerialLink
	last    domain.Direction
	lastAt  time.Time
	hasLast bool
}

func NewBridge(role domain.DeviceRole, debounce time.Duration) *Bridge {
	return &Bridge{role: role, debounce: debounce, now: time.Now}
}

// Attach enables the outbound path on an established data channel.
func (b *Bridge) Attach(dc core.DataChannel) {
	if dc == nil {
		return
	}
	b.mu.Lock()
	b.channel = dc
	b.hasLast = false
	b.mu.Unlock()

	dc.OnMessage(b.handleInbound)
	log.Info().Str("module", "control.bridge").Str("role", b.role.String()).Msg("data channel attached")
}

func (b *Bridge) Detach() {
	b.mu.Lock()
	dc := b.channel
	b.channel = nil
	b.mu.Unlock()

	if dc != nil {
		dc.OnMessage(nil)
		log.Info().Str("module", "control.bridge").Msg("data channel detached")
	}
}

// Forward makes a single send attempt and reports whether the event left.
func (b *Bridge) Forward(ev domain.ControlEvent) bool {
	dir := ev.Direction.String()

	b.mu.Lock()
	dc := b.channel
	if b.debounced(ev) {
		b.mu.Unlock()
		metrics.ControlEvents.WithLabelValues(dir, "debounced").Inc()
		return false
	}
	b.mu.Unlock()

	if dc == nil || !dc.TrySend(ev.Direction.Payload()) {
		metrics.ControlEvents.WithLabelValues(dir, "dropped").Inc()
		log.Debug().Str("module", "control.bridge").Str("direction", dir).Msg("dropped, no open data channel")
		return false
	}

	b.mu.Lock()
	b.last = ev.Direction
	b.lastAt = b.now()
	b.hasLast = true
	b.mu.Unlock()

	metrics.ControlEvents.WithLabelValues(dir, "sent").Inc()
	return true
}

// debounced must be called with b.mu held.
func (b *Bridge) debounced(ev domain.ControlEvent) bool {
	if b.debounce <= 0 || !b.hasLast || ev.Direction == domain.Calibrate {
		return false
	}
	return ev.Direction == b.last && b.now().Sub(b.lastAt) < b.debounce
}

// Run forwards events from the sensor pipeline until ctx is done or events closes.
func (b *Bridge) Run(ctx context.Context, events <-chan domain.ControlEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.Forward(ev)
		}
	}
}

// ServeLink runs the blocking read loop over link until the link closes or ctx is
// done. A closed link ends the loop for good; callers must not restart it.
func (b *Bridge) ServeLink(ctx context.Context, link core.SerialLink) error {
	b.mu.Lock()
	b.link = link
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		if b.link == link {
			b.link = nil
		}
		b.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, func() { _ = link.Close() })
	defer stop()

	log.Info().Str("module", "control.bridge").Str("role", b.role.String()).Msg("serial reader started")
	for {
		c, err := link.ReadOne()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Str("module", "control.bridge").Msg("serial reader stopped")
			if errors.Is(err, domain.ErrLinkClosed) {
				return err
			}
			return errors.Join(domain.ErrLinkClosed, err)
		}
		dir, err := domain.DirectionFromByte(c)
		if err != nil {
			log.Debug().Str("module", "control.bridge").Uint8("byte", c).Msg("ignoring non-direction byte")
			continue
		}
		b.Forward(domain.ControlEvent{Direction: dir, At: b.now()})
	}
}

func (b *Bridge) handleInbound(payload []byte) {
	if b.role != domain.DeviceCamera {
		log.Debug().Str("module", "control.bridge").Int("len", len(payload)).Msg("controller ignores inbound payload")
		return
	}
	dir, err := domain.ParseDirectionPayload(payload)
	if err != nil {
		log.Warn().Str("module", "control.bridge").Str("payload", string(payload)).Msg("bad control payload")
		return
	}

	b.mu.RLock()
	link := b.link
	b.mu.RUnlock()
	if link == nil {
		log.Debug().Str("module", "control.bridge").Str("direction", dir.String()).Msg("no rig link, dropping")
		return
	}
	if err := link.Write(byte(dir)); err != nil {
		log.Warn().Err(err).Str("module", "control.bridge").Msg("rig link write failed")
	}
}
