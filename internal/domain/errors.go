package domain

import "errors"

var (
	ErrInvalidRoomID     = errors.New("invalid room id")
	ErrProtocol          = errors.New("protocol error")
	ErrDescription       = errors.New("session description rejected")
	ErrTransport         = errors.New("transport error")
	ErrLinkClosed        = errors.New("serial link closed")
	ErrInvalidSequencing = errors.New("invalid sequencing")
	ErrAlreadyStarted    = errors.New("call already started")
	ErrUnknownDeviceRole = errors.New("unknown device role")
	ErrRoomFull          = errors.New("room full")
	ErrUnknownClient     = errors.New("unknown client")
	ErrUnknownDirection  = errors.New("unknown direction code")
)
