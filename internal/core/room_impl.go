package core

import (
	"sync"

	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
	"github.com/rs/zerolog/log"
)

type member struct {
	id        domain.ClientID
	initiator bool
	signal    SignalConnection
	// pending holds messages this member sent before its peer could receive them.
	pending []string
}

// roomImpl is a threadsafe in-memory two party room.
// It never closes adapter-owned resources.
type roomImpl struct {
	id      string
	mu      sync.RWMutex
	members map[domain.ClientID]*member
}

func NewRoomService(id string) RoomService {
	return &roomImpl{
		id:      id,
		members: make(map[domain.ClientID]*member, RoomCapacity),
	}
}

func (r *roomImpl) ID() string { return r.id }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *roomImpl) Members() []domain.ClientID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ClientID, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	return out
}

func (r *roomImpl) peerOf(cid domain.ClientID) *member {
	for id, m := range r.members {
		if id != cid {
			return m
		}
	}
	return nil
}

func (r *roomImpl) Join(cid domain.ClientID) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[cid]; ok {
		return JoinResult{}, domain.ErrAlreadyStarted
	}
	if len(r.members) >= RoomCapacity {
		return JoinResult{}, domain.ErrRoomFull
	}
	m := &member{id: cid, initiator: len(r.members) == 0}
	res := JoinResult{IsInitiator: m.initiator}
	if peer := r.peerOf(cid); peer != nil {
		res.Messages = peer.pending
		peer.pending = nil
	}
	r.members[cid] = m
	log.Info().Str("module", "core.room").Str("room", r.id).Str("client", string(cid)).Bool("initiator", m.initiator).Msg("member joined")
	return res, nil
}

func (r *roomImpl) Leave(cid domain.ClientID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[cid]; !ok {
		return false
	}
	delete(r.members, cid)
	log.Info().Str("module", "core.room").Str("room", r.id).Str("client", string(cid)).Msg("member left")

	// The member left behind becomes the initiator of the next call; what it
	// queued was addressed to the departed peer.
	if rest := r.peerOf(cid); rest != nil {
		rest.pending = nil
		if !rest.initiator {
			rest.initiator = true
			log.Info().Str("module", "core.room").Str("room", r.id).Str("client", string(rest.id)).Msg("promoted to initiator")
		}
	}
	return true
}

// Initiator returns the member that creates the offer, if any.
func (r *roomImpl) Initiator() (domain.ClientID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, m := range r.members {
		if m.initiator {
			return id, true
		}
	}
	return "", false
}

// Register binds a websocket to a joined member and flushes anything the peer queued for it.
func (r *roomImpl) Register(cid domain.ClientID, conn SignalConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[cid]
	if !ok {
		return domain.ErrUnknownClient
	}
	m.signal = conn
	if peer := r.peerOf(cid); peer != nil && len(peer.pending) > 0 {
		for i, msg := range peer.pending {
			if err := conn.Deliver(msg); err != nil {
				peer.pending = peer.pending[i:]
				return err
			}
		}
		peer.pending = nil
	}
	return nil
}

func (r *roomImpl) Unregister(cid domain.ClientID) SignalConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[cid]
	if !ok {
		return nil
	}
	conn := m.signal
	m.signal = nil
	return conn
}

func (r *roomImpl) Send(from domain.ClientID, msg string) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[from]
	if !ok {
		return PublishResult{}, domain.ErrUnknownClient
	}
	res := PublishResult{}
	peer := r.peerOf(from)
	if peer == nil || peer.signal == nil {
		m.pending = append(m.pending, msg)
		res.Queued = true
	} else if err := peer.signal.Deliver(msg); err != nil {
		res.Dropped = peer.id
	} else {
		res.Delivered = true
	}
	log.Debug().Str("module", "core.room").Str("room", r.id).Str("from", string(from)).
		Bool("delivered", res.Delivered).Bool("queued", res.Queued).Msg("send result")
	return res, nil
}
