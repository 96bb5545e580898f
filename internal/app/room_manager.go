package app

import (
	"sort"
	"sync"

	"github.com/ArduinoAndWebRTC/webrtc/internal/core"
	"github.com/ArduinoAndWebRTC/webrtc/internal/metrics"
)

type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[string]core.RoomService
}

func NewRoomManager() core.RoomManager {
	return &RoomManagerImpl{rooms: make(map[string]core.RoomService)}
}

func (f *RoomManagerImpl) GetOrCreate(id string) core.RoomService {
	f.mu.RLock()
	room, ok := f.rooms[id]
	f.mu.RUnlock()
	if ok {
		return room
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok = f.rooms[id]; ok {
		return room
	}
	room = core.NewRoomService(id)
	f.rooms[id] = room
	metrics.Rooms.Set(float64(len(f.rooms)))
	return room
}

func (f *RoomManagerImpl) Get(id string) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	return room, ok
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for id, r := range f.rooms {
		initiator, _ := r.Initiator()
		out = append(out, core.RoomInfo{ID: id, MemberCount: r.MemberCount(), Initiator: initiator})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *RoomManagerImpl) StopRoom(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, id)
	metrics.Rooms.Set(float64(len(f.rooms)))
}
