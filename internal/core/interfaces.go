package core

import (
	"context"
	"time"

	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
)

// SignalingEvents receives room events on the signaling adapter's own goroutines.
type SignalingEvents interface {
	OnConnectedToRoom(domain.SignalingParameters)
	OnRemoteDescription(domain.SessionDescription)
	OnRemoteIceCandidate(domain.IceCandidate)
	OnRemoteIceCandidatesRemoved([]domain.IceCandidate)
	OnChannelClose()
	OnChannelError(msg string)
}

// SignalingChannel is a room based signaling transport.
// ConnectToRoom returns immediately; the outcome arrives through SignalingEvents.
// DisconnectFromRoom must be safe to call more than once.
type SignalingChannel interface {
	ConnectToRoom(ctx context.Context, room domain.RoomIdentity)
	SendOfferSDP(domain.SessionDescription)
	SendAnswerSDP(domain.SessionDescription)
	SendLocalIceCandidate(domain.IceCandidate)
	SendLocalIceCandidateRemovals([]domain.IceCandidate)
	DisconnectFromRoom()
}

// MediaEvents receives peer connection events on the media engine's goroutines.
type MediaEvents interface {
	OnLocalDescription(domain.SessionDescription)
	OnIceCandidate(domain.IceCandidate)
	OnIceCandidatesRemoved([]domain.IceCandidate)
	OnIceConnected()
	OnIceDisconnected()
	OnPeerConnectionClosed()
	OnStatsReady(domain.StatsReport)
	OnPeerConnectionError(msg string)
}

// MediaSession wraps one peer connection. Offer and answer creation complete
// asynchronously through MediaEvents.OnLocalDescription.
type MediaSession interface {
	CreatePeerConnection(iceServers []domain.IceServer) error
	CreateOffer() error
	CreateAnswer() error
	SetRemoteDescription(domain.SessionDescription) error
	AddRemoteIceCandidate(domain.IceCandidate)
	RemoveRemoteIceCandidates([]domain.IceCandidate)
	SetAudioEnabled(enabled bool)
	SwitchCaptureSource() error
	StartVideoSource() error
	StopVideoSource()
	SetMaxBitrate(kbps int)
	StartStatsPolling(interval time.Duration)
	StopStatsPolling()
	DataChannel() DataChannel
	Close()
}

// DataChannel is the control sink on top of the negotiated data channel.
// TrySend reports false when the message was dropped because the channel is not open.
type DataChannel interface {
	TrySend(payload []byte) bool
	OnMessage(fn func(payload []byte))
}

// SerialLink is an owned handle on a byte oriented serial connection.
type SerialLink interface {
	Write(b byte) error
	// ReadOne blocks until a byte arrives. It returns domain.ErrLinkClosed once the link is gone.
	ReadOne() (byte, error)
	Close() error
}
