package app

import (
	"github.com/ArduinoAndWebRTC/webrtc/internal/core"
	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a member whose websocket refused a relayed message.
type Policy interface {
	OnBackPressure(room core.RoomService, member domain.ClientID) BackpressureAction
}

// SimplePolicy always kicks.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.RoomService, domain.ClientID) BackpressureAction {
	return KickMember
}
