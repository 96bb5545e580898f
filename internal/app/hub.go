package app

import (
	"context"
	"fmt"

	"github.com/ArduinoAndWebRTC/webrtc/internal/core"
	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
	"github.com/ArduinoAndWebRTC/webrtc/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Hub is the room server's application service. HTTP and websocket handlers only talk to it.
type Hub struct {
	Registry *Registry
	Rooms    core.RoomManager
	Policy   Policy
}

func NewHub() *Hub {
	return &Hub{
		Registry: NewRegistry(),
		Rooms:    NewRoomManager(),
		Policy:   SimplePolicy{},
	}
}

// Join allocates a client id and seats it in roomID.
func (h *Hub) Join(roomID string) (domain.ClientID, core.JoinResult, error) {
	if err := (domain.RoomIdentity{RoomID: roomID}).Validate(); err != nil {
		return "", core.JoinResult{}, err
	}
	cid := domain.NewClientID()
	room := h.Rooms.GetOrCreate(roomID)
	res, err := room.Join(cid)
	if err != nil {
		return "", core.JoinResult{}, err
	}
	h.Registry.BindRoom(cid, roomID)
	return cid, res, nil
}

// Register binds the websocket of a joined client and flushes what its peer queued.
func (h *Hub) Register(roomID string, cid domain.ClientID, conn core.SignalConnection, cancel context.CancelFunc) error {
	room, ok := h.Rooms.Get(roomID)
	if !ok {
		return fmt.Errorf("%w: no room %q", domain.ErrUnknownClient, roomID)
	}
	if err := room.Register(cid, conn); err != nil {
		return err
	}
	h.Registry.BindSignal(cid, conn, cancel)
	log.Info().Str("module", "app.hub").Str("room", roomID).Str("client", string(cid)).Msg("registered")
	return nil
}

func (h *Hub) Send(roomID string, from domain.ClientID, msg string) error {
	room, ok := h.Rooms.Get(roomID)
	if !ok {
		return fmt.Errorf("%w: no room %q", domain.ErrUnknownClient, roomID)
	}
	res, err := room.Send(from, msg)
	if err != nil {
		return err
	}
	switch {
	case res.Delivered:
		metrics.RelayedMessages.WithLabelValues("delivered").Inc()
	case res.Queued:
		metrics.RelayedMessages.WithLabelValues("queued").Inc()
	}
	if res.Dropped == "" {
		return nil
	}
	metrics.RelayedMessages.WithLabelValues("dropped").Inc()
	if h.Policy == nil {
		return nil
	}
	switch h.Policy.OnBackPressure(room, res.Dropped) {
	case KickMember:
		h.Kick(roomID, res.Dropped)
	case NoAction:
	}
	return nil
}

// Leave frees cid's slot and closes its websocket. Repeated calls are no-ops.
func (h *Hub) Leave(roomID string, cid domain.ClientID) {
	room, ok := h.Rooms.Get(roomID)
	if !ok {
		return
	}
	conn := room.Unregister(cid)
	left := room.Leave(cid)
	h.Registry.Unbind(cid)
	if conn != nil {
		conn.Close()
	}
	if room.MemberCount() == 0 {
		h.Rooms.StopRoom(roomID)
	}
	if left {
		log.Info().Str("module", "app.hub").Str("room", roomID).Str("client", string(cid)).Msg("left")
	}
}

func (h *Hub) Kick(roomID string, cid domain.ClientID) {
	log.Warn().Str("module", "app.hub").Str("room", roomID).Str("client", string(cid)).Msg("kicking slow client")
	h.Leave(roomID, cid)
}

// Disconnect handles a websocket that went away on its own. A stale conn
// (the client already re-registered or left) is ignored.
func (h *Hub) Disconnect(roomID string, cid domain.ClientID, conn core.SignalConnection) {
	_, current, ok := h.Registry.RoomOf(cid)
	if !ok || current != conn {
		return
	}
	h.Leave(roomID, cid)
}

func (h *Hub) EvictRoom(roomID string) {
	for _, cid := range h.Registry.MembersOfRoom(roomID) {
		h.Leave(roomID, cid)
	}
	h.Rooms.StopRoom(roomID)
}

// Shutdown evicts every room.
func (h *Hub) Shutdown() {
	for _, info := range h.Rooms.List() {
		h.EvictRoom(info.ID)
	}
}
