package core

import "github.com/ArduinoAndWebRTC/webrtc/internal/domain"

const RoomCapacity = 2

// JoinResult is what a joining client learns about the room.
type JoinResult struct {
	IsInitiator bool
	// Messages the peer posted before this client joined.
	Messages []string
}

// PublishResult reports what happened to a relayed message.
type PublishResult struct {
	Delivered bool
	Queued    bool
	// Dropped is set when the peer's connection refused the message.
	Dropped domain.ClientID
}

// RoomService is the core-facing API of a signaling room.
// It owns the membership set but never closes transport resources.
type RoomService interface {
	ID() string
	MemberCount() int
	Members() []domain.ClientID
	// Initiator is the member that creates the offer. A member left alone is promoted.
	Initiator() (domain.ClientID, bool)

	Join(cid domain.ClientID) (JoinResult, error)
	Leave(cid domain.ClientID) bool
	Register(cid domain.ClientID, conn SignalConnection) error
	Unregister(cid domain.ClientID) SignalConnection
	Send(from domain.ClientID, msg string) (PublishResult, error)
}

type RoomInfo struct {
	ID          string          `json:"id"`
	MemberCount int             `json:"client_count"`
	Initiator   domain.ClientID `json:"initiator,omitempty"`
}

type RoomManager interface {
	GetOrCreate(id string) RoomService
	Get(id string) (RoomService, bool)
	List() []RoomInfo
	StopRoom(id string)
}
