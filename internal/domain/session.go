package domain

import "time"

type SDPType string

const (
	SDPOffer  SDPType = "offer"
	SDPAnswer SDPType = "answer"
)

// SessionDescription is passed around as an opaque value; the payload is never inspected here.
type SessionDescription struct {
	Type SDPType
	SDP  string
}

// IceCandidate compares by value, which is what candidate removal relies on.
type IceCandidate struct {
	SDPMid        string
	SDPMLineIndex uint16
	Candidate     string
}

type StatsReport struct {
	Timestamp     time.Time
	BytesSent     uint64
	BytesReceived uint64
	PacketsSent   uint32
	PacketsRecv   uint32
	RoundTrip     time.Duration
	Entries       int

	// InboundRTP and InboundLost count packets on remote tracks since the call began.
	InboundRTP  uint64
	InboundLost uint64
}
