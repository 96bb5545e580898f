package orch

import (
	"fmt"

	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
	"github.com/ArduinoAndWebRTC/webrtc/internal/metrics"
	"github.com/rs/zerolog/log"
)

// mediaEvents marshals peer connection callbacks onto the run goroutine.
type mediaEvents struct{ o *Orchestrator }

func (e mediaEvents) OnLocalDescription(sd domain.SessionDescription) {
	e.o.post(func() { e.o.onLocalDescription(sd) })
}

func (e mediaEvents) OnIceCandidate(c domain.IceCandidate) {
	e.o.post(func() { e.o.signaling.SendLocalIceCandidate(c) })
}

func (e mediaEvents) OnIceCandidatesRemoved(cs []domain.IceCandidate) {
	e.o.post(func() { e.o.signaling.SendLocalIceCandidateRemovals(cs) })
}

func (e mediaEvents) OnIceConnected() {
	e.o.post(e.o.onIceConnected)
}

func (e mediaEvents) OnIceDisconnected() {
	e.o.post(e.o.onIceDisconnected)
}

func (e mediaEvents) OnPeerConnectionClosed() {
	e.o.post(func() { e.o.disconnect("peer connection closed") })
}

func (e mediaEvents) OnStatsReady(r domain.StatsReport) {
	e.o.post(func() { e.o.onStats(r) })
}

func (e mediaEvents) OnPeerConnectionError(msg string) {
	e.o.post(func() { e.o.fail(fmt.Errorf("%w: peer connection: %s", domain.ErrTransport, msg)) })
}

func (o *Orchestrator) onLocalDescription(sd domain.SessionDescription) {
	switch o.st.Role {
	case domain.RoleInitiator:
		if o.offerSent {
			log.Warn().Str("module", "orch").Msg("second local offer, dropping")
			return
		}
		o.offerSent = true
		o.signaling.SendOfferSDP(sd)
	default:
		if o.answerSent {
			log.Warn().Str("module", "orch").Msg("second local answer, dropping")
			return
		}
		o.answerSent = true
		o.signaling.SendAnswerSDP(sd)
	}
	log.Info().Str("module", "orch").Str("type", string(sd.Type)).Msg("local description sent")
	if o.opts.VideoMaxBitrate > 0 {
		o.media.SetMaxBitrate(o.opts.VideoMaxBitrate)
	}
}

func (o *Orchestrator) onIceConnected() {
	if o.st.Phase != PhaseNegotiating {
		log.Debug().Str("module", "orch").Str("phase", o.st.Phase.String()).Msg("ice connected again, ignoring")
		return
	}
	o.st.IceConnected = true
	o.transition(PhaseIceConnected)
	o.media.StartStatsPolling(o.opts.StatsInterval)
	o.transition(PhaseActive)
	if o.opts.Control == nil {
		return
	}
	if dc := o.media.DataChannel(); dc != nil {
		o.opts.Control.Attach(dc)
	} else {
		log.Warn().Str("module", "orch").Msg("active without a data channel")
	}
}

func (o *Orchestrator) onIceDisconnected() {
	if o.st.Phase < PhaseIceConnected {
		log.Info().Str("module", "orch").Str("phase", o.st.Phase.String()).Msg("ice disconnected before connecting, ignoring")
		return
	}
	o.disconnect("ice disconnected")
}

func (o *Orchestrator) onStats(r domain.StatsReport) {
	metrics.RoundTrip.Set(r.RoundTrip.Seconds())
	metrics.InboundLost.Set(float64(r.InboundLost))
	log.Debug().Str("module", "orch").Uint64("bytes_sent", r.BytesSent).Uint64("bytes_received", r.BytesReceived).
		Dur("rtt", r.RoundTrip).Uint64("rtp_lost", r.InboundLost).Msg("stats")
	if o.opts.OnStats != nil {
		o.opts.OnStats(r)
	}
}
