package orch

import (
	"fmt"

	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
	"github.com/rs/zerolog/log"
)

// signalingEvents marshals signaling callbacks onto the run goroutine.
type signalingEvents struct{ o *Orchestrator }

func (e signalingEvents) OnConnectedToRoom(p domain.SignalingParameters) {
	e.o.post(func() { e.o.onConnectedToRoom(p) })
}

func (e signalingEvents) OnRemoteDescription(sd domain.SessionDescription) {
	e.o.post(func() { e.o.onRemoteDescription(sd) })
}

func (e signalingEvents) OnRemoteIceCandidate(c domain.IceCandidate) {
	e.o.post(func() { e.o.onRemoteIceCandidate(c) })
}

func (e signalingEvents) OnRemoteIceCandidatesRemoved(cs []domain.IceCandidate) {
	e.o.post(func() { e.o.onRemoteIceCandidatesRemoved(cs) })
}

func (e signalingEvents) OnChannelClose() {
	e.o.post(func() { e.o.disconnect("remote hangup") })
}

func (e signalingEvents) OnChannelError(msg string) {
	e.o.post(func() { e.o.fail(fmt.Errorf("%w: signaling: %s", domain.ErrTransport, msg)) })
}

func (o *Orchestrator) onConnectedToRoom(p domain.SignalingParameters) {
	if o.st.Phase != PhaseSignalingConnecting {
		log.Warn().Str("module", "orch").Str("phase", o.st.Phase.String()).Msg("unexpected room join, ignoring")
		return
	}
	o.st.Role = p.Role
	o.transition(PhaseSignalingConnected)
	log.Info().Str("module", "orch").Str("role", p.Role.String()).Str("client", p.ClientID).
		Int("ice_servers", len(p.IceServers)).Bool("initial_offer", p.OfferSDP != nil).
		Int("initial_candidates", len(p.IceCandidates)).Msg("connected to room")

	o.media = o.newMedia(mediaEvents{o})
	if err := o.media.CreatePeerConnection(p.IceServers); err != nil {
		o.fail(classify(fmt.Errorf("create peer connection: %w", err), domain.ErrTransport))
		return
	}
	o.transition(PhaseNegotiating)

	switch {
	case p.Role == domain.RoleInitiator:
		o.createOffer()
	case p.OfferSDP != nil:
		if err := o.media.SetRemoteDescription(*p.OfferSDP); err != nil {
			o.fail(classify(err, domain.ErrDescription))
			return
		}
		o.createAnswer()
	default:
		log.Info().Str("module", "orch").Msg("waiting for remote offer")
	}
	if p.Role == domain.RoleResponder {
		for _, c := range p.IceCandidates {
			o.media.AddRemoteIceCandidate(c)
		}
	}
}

func (o *Orchestrator) createOffer() {
	if o.offerRequested {
		return
	}
	o.offerRequested = true
	if err := o.media.CreateOffer(); err != nil {
		o.fail(classify(err, domain.ErrTransport))
	}
}

func (o *Orchestrator) createAnswer() {
	if o.answerRequested {
		log.Debug().Str("module", "orch").Msg("answer already requested")
		return
	}
	o.answerRequested = true
	if err := o.media.CreateAnswer(); err != nil {
		o.fail(classify(err, domain.ErrTransport))
	}
}

func (o *Orchestrator) onRemoteDescription(sd domain.SessionDescription) {
	if o.media == nil {
		o.fail(fmt.Errorf("%w: remote %s with no media session", domain.ErrProtocol, sd.Type))
		return
	}
	want := domain.SDPAnswer
	if o.st.Role == domain.RoleResponder {
		want = domain.SDPOffer
	}
	if sd.Type != want {
		o.fail(fmt.Errorf("%w: %s received as %s", domain.ErrProtocol, sd.Type, o.st.Role))
		return
	}
	if err := o.media.SetRemoteDescription(sd); err != nil {
		o.fail(classify(err, domain.ErrDescription))
		return
	}
	log.Info().Str("module", "orch").Str("type", string(sd.Type)).Msg("remote description applied")
	if o.st.Role == domain.RoleResponder {
		o.createAnswer()
	}
}

func (o *Orchestrator) onRemoteIceCandidate(c domain.IceCandidate) {
	if o.media == nil {
		log.Warn().Str("module", "orch").Msg("remote candidate before media session, dropping")
		return
	}
	o.media.AddRemoteIceCandidate(c)
}

func (o *Orchestrator) onRemoteIceCandidatesRemoved(cs []domain.IceCandidate) {
	if o.media == nil {
		log.Warn().Str("module", "orch").Int("count", len(cs)).Msg("candidate removal before media session, dropping")
		return
	}
	o.media.RemoveRemoteIceCandidates(cs)
}
