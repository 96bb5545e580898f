// Package apprtc holds the room protocol wire types shared by the room client and the room server.
package apprtc

import (
	"fmt"

	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
	"github.com/bytedance/sonic"
)

// Join results.
const (
	ResultSuccess       = "SUCCESS"
	ResultFull          = "FULL"
	ResultError         = "ERROR"
	ResultInvalidRoom   = "INVALID_ROOM"
	ResultUnknownRoom   = "UNKNOWN_ROOM"
	ResultInvalidClient = "INVALID_CLIENT"
	ResultRateLimited   = "RATE_LIMITED"
)

// Websocket commands.
const (
	CmdRegister = "register"
	CmdSend     = "send"
)

// Message types carried inside msg strings.
const (
	TypeOffer            = "offer"
	TypeAnswer           = "answer"
	TypeCandidate        = "candidate"
	TypeRemoveCandidates = "remove-candidates"
	TypeBye              = "bye"
)

type JoinParams struct {
	// IsInitiator is the string "true" or "false".
	IsInitiator string             `json:"is_initiator"`
	RoomID      string             `json:"room_id"`
	ClientID    string             `json:"client_id"`
	WSSURL      string             `json:"wss_url"`
	WSSPostURL  string             `json:"wss_post_url"`
	Messages    []string           `json:"messages"`
	IceServers  []domain.IceServer `json:"ice_servers"`
	IsLoopback  string             `json:"is_loopback,omitempty"`
}

type JoinResponse struct {
	Result string     `json:"result"`
	Params JoinParams `json:"params"`
}

type MessageResponse struct {
	Result string `json:"result"`
}

// Command is a client to server websocket frame.
type Command struct {
	Cmd      string `json:"cmd"`
	RoomID   string `json:"roomid,omitempty"`
	ClientID string `json:"clientid,omitempty"`
	Msg      string `json:"msg,omitempty"`
}

// Envelope is a server to client websocket frame.
type Envelope struct {
	Msg   string `json:"msg"`
	Error string `json:"error"`
}

type Candidate struct {
	Label     uint16 `json:"label"`
	ID        string `json:"id"`
	Candidate string `json:"candidate"`
}

// Message is the payload relayed between the two peers.
type Message struct {
	Type       string      `json:"type"`
	SDP        string      `json:"sdp,omitempty"`
	Label      uint16      `json:"label"`
	ID         string      `json:"id,omitempty"`
	Candidate  string      `json:"candidate,omitempty"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

func BoolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func DescriptionMessage(sd domain.SessionDescription) Message {
	return Message{Type: string(sd.Type), SDP: sd.SDP}
}

func CandidateMessage(c domain.IceCandidate) Message {
	return Message{Type: TypeCandidate, Label: c.SDPMLineIndex, ID: c.SDPMid, Candidate: c.Candidate}
}

func RemovalMessage(cs []domain.IceCandidate) Message {
	m := Message{Type: TypeRemoveCandidates, Candidates: make([]Candidate, 0, len(cs))}
	for _, c := range cs {
		m.Candidates = append(m.Candidates, Candidate{Label: c.SDPMLineIndex, ID: c.SDPMid, Candidate: c.Candidate})
	}
	return m
}

func (m Message) Description() domain.SessionDescription {
	return domain.SessionDescription{Type: domain.SDPType(m.Type), SDP: m.SDP}
}

func (m Message) IceCandidate() domain.IceCandidate {
	return domain.IceCandidate{SDPMid: m.ID, SDPMLineIndex: m.Label, Candidate: m.Candidate}
}

func (m Message) RemovedCandidates() []domain.IceCandidate {
	out := make([]domain.IceCandidate, 0, len(m.Candidates))
	for _, c := range m.Candidates {
		out = append(out, domain.IceCandidate{SDPMid: c.ID, SDPMLineIndex: c.Label, Candidate: c.Candidate})
	}
	return out
}

func Encode(v any) (string, error) {
	s, err := sonic.MarshalString(v)
	if err != nil {
		return "", fmt.Errorf("encode %T: %w", v, err)
	}
	return s, nil
}

// ParseMessage decodes a relayed message and rejects unknown types.
func ParseMessage(raw string) (Message, error) {
	var m Message
	if err := sonic.UnmarshalString(raw, &m); err != nil {
		return Message{}, fmt.Errorf("%w: bad message: %v", domain.ErrProtocol, err)
	}
	switch m.Type {
	case TypeOffer, TypeAnswer, TypeCandidate, TypeRemoveCandidates, TypeBye:
		return m, nil
	default:
		return Message{}, fmt.Errorf("%w: unexpected message type %q", domain.ErrProtocol, m.Type)
	}
}

// Parameters converts a successful join response into the values the orchestrator bootstraps from.
// A queued offer only matters to the responder; queued candidates are kept in order.
func (r JoinResponse) Parameters() (domain.SignalingParameters, error) {
	p := domain.SignalingParameters{
		Role:       domain.RoleResponder,
		ClientID:   r.Params.ClientID,
		IceServers: r.Params.IceServers,
	}
	if r.Params.IsInitiator == "true" {
		p.Role = domain.RoleInitiator
	}
	for _, raw := range r.Params.Messages {
		m, err := ParseMessage(raw)
		if err != nil {
			return domain.SignalingParameters{}, err
		}
		switch m.Type {
		case TypeOffer:
			if p.Role == domain.RoleResponder {
				sd := m.Description()
				p.OfferSDP = &sd
			}
		case TypeCandidate:
			p.IceCandidates = append(p.IceCandidates, m.IceCandidate())
		}
	}
	return p, nil
}
