package app

import (
	"context"
	"sync"

	"github.com/ArduinoAndWebRTC/webrtc/internal/core"
	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
	"github.com/rs/zerolog/log"
)

type clientEntry struct {
	RoomID string
	Signal core.SignalConnection
	Cancel context.CancelFunc
}

// Registry tracks which room each client joined and which websocket it registered.
type Registry struct {
	mu      sync.RWMutex
	clients map[domain.ClientID]*clientEntry
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[domain.ClientID]*clientEntry)}
}

func (r *Registry) BindRoom(cid domain.ClientID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[cid] = &clientEntry{RoomID: roomID}
	log.Debug().Str("module", "app.registry").Str("client", string(cid)).Str("room", roomID).Msg("bound room")
}

// BindSignal attaches a websocket to a client that already joined.
func (r *Registry) BindSignal(cid domain.ClientID, conn core.SignalConnection, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[cid]
	if !ok {
		return false
	}
	e.Signal = conn
	e.Cancel = cancel
	log.Debug().Str("module", "app.registry").Str("client", string(cid)).Msg("bound signal")
	return true
}

func (r *Registry) RoomOf(cid domain.ClientID) (string, core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.clients[cid]
	if !ok {
		return "", nil, false
	}
	return e.RoomID, e.Signal, true
}

// Unbind forgets the client and cancels its websocket pumps, if any.
func (r *Registry) Unbind(cid domain.ClientID) {
	r.mu.Lock()
	e, ok := r.clients[cid]
	delete(r.clients, cid)
	r.mu.Unlock()
	if ok && e.Cancel != nil {
		e.Cancel()
	}
	log.Debug().Str("module", "app.registry").Str("client", string(cid)).Msg("unbind client")
}

func (r *Registry) MembersOfRoom(roomID string) []domain.ClientID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ClientID, 0, core.RoomCapacity)
	for cid, e := range r.clients {
		if e.RoomID == roomID {
			out = append(out, cid)
		}
	}
	return out
}
