// Package domain contains value types shared by the peer and the room server, without logic beyond validation.
package domain

import (
	"strings"

	"github.com/google/uuid"
)

const (
	DefaultRoomURL = "https://appr.tc"
	MaxRoomIDLen   = 64
)

// RoomIdentity identifies which signaling room to join. Immutable once a call starts.
type RoomIdentity struct {
	RoomURL  string `json:"room_url"`
	RoomID   string `json:"room_id"`
	Loopback bool   `json:"loopback"`
}

func (r RoomIdentity) Validate() error {
	id := strings.TrimSpace(r.RoomID)
	if id == "" || len(id) > MaxRoomIDLen {
		return ErrInvalidRoomID
	}
	return nil
}

// SessionRole is fixed at join time from room occupancy.
type SessionRole int

const (
	RoleInitiator SessionRole = iota
	RoleResponder
)

func (r SessionRole) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// DeviceRole selects the control sink: the controller steers, the camera drives the rig.
type DeviceRole int

const (
	DeviceController DeviceRole = iota
	DeviceCamera
)

func (d DeviceRole) String() string {
	if d == DeviceCamera {
		return "camera"
	}
	return "controller"
}

func ParseDeviceRole(s string) (DeviceRole, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "camera":
		return DeviceCamera, nil
	case "controller", "viewer", "":
		return DeviceController, nil
	}
	return DeviceController, ErrUnknownDeviceRole
}

type IceServer struct {
	URLs       []string `json:"urls" mapstructure:"urls"`
	Username   string   `json:"username,omitempty" mapstructure:"username"`
	Credential string   `json:"credential,omitempty" mapstructure:"credential"`
}

// SignalingParameters is produced once on room join and consumed once by the orchestrator.
type SignalingParameters struct {
	Role          SessionRole
	ClientID      string
	IceServers    []IceServer
	OfferSDP      *SessionDescription
	IceCandidates []IceCandidate
}

type ClientID string

// NewClientID returns a short hex id.
func NewClientID() ClientID {
	return ClientID(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}
