package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	ControlLabel     = "control"
	controlChannelID = uint16(0)
)

// controlChannelInit describes the pre-negotiated control channel both peers open
// with the same id, so neither side waits on OnDataChannel.
func controlChannelInit() *webrtc.DataChannelInit {
	negotiated := true
	ordered := true
	id := controlChannelID
	retransmits := uint16(0)
	return &webrtc.DataChannelInit{
		Negotiated:     &negotiated,
		ID:             &id,
		Ordered:        &ordered,
		MaxRetransmits: &retransmits,
	}
}

type dataChannel struct {
	dc *webrtc.DataChannel

	mu        sync.Mutex
	onMessage func([]byte)
}

func newDataChannel(dc *webrtc.DataChannel) *dataChannel {
	d := &dataChannel{dc: dc}
	dc.OnOpen(func() {
		log.Info().Str("module", "webrtc").Str("label", dc.Label()).Msg("data channel open")
	})
	dc.OnClose(func() {
		log.Info().Str("module", "webrtc").Str("label", dc.Label()).Msg("data channel closed")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		d.mu.Lock()
		fn := d.onMessage
		d.mu.Unlock()
		if fn != nil {
			fn(msg.Data)
		}
	})
	return d
}

func (d *dataChannel) TrySend(payload []byte) bool {
	if d.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return false
	}
	if err := d.dc.Send(payload); err != nil {
		log.Debug().Err(err).Str("module", "webrtc").Msg("data channel send")
		return false
	}
	return true
}

func (d *dataChannel) OnMessage(fn func([]byte)) {
	d.mu.Lock()
	d.onMessage = fn
	d.mu.Unlock()
}
