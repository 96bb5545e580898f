package rtc

import (
	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
	"github.com/pion/webrtc/v4"
)

func toPionServers(servers []domain.IceServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}

func toPionCandidate(c domain.IceCandidate) webrtc.ICECandidateInit {
	mid := c.SDPMid
	idx := c.SDPMLineIndex
	return webrtc.ICECandidateInit{Candidate: c.Candidate, SDPMid: &mid, SDPMLineIndex: &idx}
}

func fromPionCandidate(ci webrtc.ICECandidateInit) domain.IceCandidate {
	c := domain.IceCandidate{Candidate: ci.Candidate}
	if ci.SDPMid != nil {
		c.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		c.SDPMLineIndex = *ci.SDPMLineIndex
	}
	return c
}

func toPionDescription(sd domain.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(string(sd.Type)), SDP: sd.SDP}
}
