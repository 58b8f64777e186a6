package app

import (
	"sort"
	"sync"
	"time"

	"github.com/dkeye/VoiceAgent/internal/core"
	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomManagerImpl creates rooms on first join. Rooms live until StopRoom;
// an empty room is kept so a reconnecting member finds the same instance.
type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.RoomName]core.RoomService
	now   func() time.Time
}

func NewRoomManager() core.RoomManager {
	return &RoomManagerImpl{
		rooms: make(map[domain.RoomName]core.RoomService),
		now:   time.Now,
	}
}

func (m *RoomManagerImpl) GetOrCreate(name domain.RoomName) core.RoomService {
	if room, ok := m.Get(name); ok {
		return room
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok := m.rooms[name]; ok {
		return room
	}
	room := core.NewRoomService(&domain.Room{Name: name, CreatedAt: m.now()})
	m.rooms[name] = room
	log.Info().Str("module", "app").Str("room", string(name)).Msg("room created")
	return room
}

func (m *RoomManagerImpl) Get(name domain.RoomName) (core.RoomService, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[name]
	return room, ok
}

// List returns the rooms ordered by name.
func (m *RoomManagerImpl) List() []core.RoomInfo {
	m.mu.RLock()
	out := make([]core.RoomInfo, 0, len(m.rooms))
	for _, r := range m.rooms {
		meta := r.Room()
		out = append(out, core.RoomInfo{Name: meta.Name, MemberCount: r.MemberCount(), CreatedAt: meta.CreatedAt})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *RoomManagerImpl) StopRoom(name domain.RoomName) {
	m.mu.Lock()
	_, ok := m.rooms[name]
	delete(m.rooms, name)
	m.mu.Unlock()
	if ok {
		log.Info().Str("module", "app").Str("room", string(name)).Msg("room stopped")
	}
}
