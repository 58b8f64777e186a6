package core

import (
	"sort"
	"sync"

	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/dkeye/VoiceAgent/internal/grant"
)

// memberSession implements MemberSession by pairing meta + transport.
type memberSession struct {
	mu     sync.RWMutex
	meta   *domain.Member
	claims grant.Claims
	signal SignalConnection
	media  MediaConnection
}

func NewMemberSession(meta *domain.Member, claims grant.Claims) MemberSession {
	return &memberSession{meta: meta, claims: claims}
}

func (m *memberSession) Meta() *domain.Member { return m.meta }
func (m *memberSession) Grant() grant.Claims  { return m.claims }

func (m *memberSession) Signal() SignalConnection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.signal
}

func (m *memberSession) Media() MediaConnection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.media
}

func (m *memberSession) UpdateSignal(s SignalConnection) MemberSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signal = s
	return m
}

func (m *memberSession) UpdateMedia(mc MediaConnection) MemberSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.media = mc
	return m
}

func (m *memberSession) SetTrack(kind domain.TrackKind, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta.Tracks[kind] = active
}

func (m *memberSession) SetState(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta.State = state
}

func (m *memberSession) Snapshot() MemberDTO {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.meta.Participant
	dto := MemberDTO{Identity: p.Identity, Kind: p.Kind, Metadata: p.Metadata, State: m.meta.State}
	for kind, active := range m.meta.Tracks {
		dto.Tracks = append(dto.Tracks, domain.Track{Kind: kind, Active: active})
	}
	sort.Slice(dto.Tracks, func(i, j int) bool { return dto.Tracks[i].Kind < dto.Tracks[j].Kind })
	return dto
}
