package core

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrUnknownMember = errors.New("unknown member")

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room       *domain.Room
	mu         sync.RWMutex
	bySID      map[SessionID]MemberSession
	byIdentity map[domain.Identity]SessionID
}

func NewRoomService(room *domain.Room) RoomService {
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}
	return &roomImpl{
		room:       room,
		bySID:      make(map[SessionID]MemberSession),
		byIdentity: make(map[domain.Identity]SessionID),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

func (r *roomImpl) AddMember(sid SessionID, ms MemberSession) {
	id := ms.Meta().Participant.Identity
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySID[sid] = ms
	r.byIdentity[id] = sid
	log.Info().Str("module", "core.room").Str("room", string(r.room.Name)).Str("sid", string(sid)).Str("identity", string(id)).Msg("member added")
}

func (r *roomImpl) RemoveMember(sid SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ms, ok := r.bySID[sid]; ok {
		id := ms.Meta().Participant.Identity
		// A replacing connection may already own the identity.
		if r.byIdentity[id] == sid {
			delete(r.byIdentity, id)
		}
	}
	delete(r.bySID, sid)
	log.Info().Str("module", "core.room").Str("room", string(r.room.Name)).Str("sid", string(sid)).Msg("member removed")
}

func (r *roomImpl) SessionOf(id domain.Identity) (SessionID, MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.byIdentity[id]
	if !ok {
		return "", nil, false
	}
	return sid, r.bySID[sid], true
}

func (r *roomImpl) Broadcast(from SessionID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for sid, m := range r.bySID {
		if sid == from {
			continue
		}
		sig := m.Signal()
		if sig == nil {
			continue
		}
		if err := sig.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) SendTo(to domain.Identity, data Frame) error {
	_, ms, ok := r.SessionOf(to)
	if !ok || ms.Signal() == nil {
		return ErrUnknownMember
	}
	return ms.Signal().TrySend(data)
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.bySID))
	for _, ms := range r.bySID {
		out = append(out, ms.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}
