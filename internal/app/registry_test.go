package app

import (
	"testing"

	"github.com/dkeye/VoiceAgent/internal/core"
	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/dkeye/VoiceAgent/internal/grant"
)

func member(id string) core.MemberSession {
	return core.NewMemberSession(domain.NewMember(domain.Participant{Identity: domain.Identity(id), Kind: domain.KindNormal}), grant.Claims{Identity: id})
}

func TestRegistryRoomMates(t *testing.T) {
	reg := NewRegistry()
	canceled := false
	reg.BindSession("s1", "demo-1", member("patient-42"), func() { canceled = true })
	reg.BindSession("s2", "demo-1", member("agent-a"), nil)
	reg.BindSession("s3", "other", member("x"), nil)

	mates := reg.RoomMates("s1")
	if len(mates) != 1 || mates[0].SID != "s2" {
		t.Fatalf("room mates = %+v", mates)
	}
	if name, _, ok := reg.RoomOf("s3"); !ok || name != "other" {
		t.Fatalf("RoomOf = %q %v", name, ok)
	}

	reg.RemoveRoom("s2")
	if _, _, ok := reg.RoomOf("s2"); ok {
		t.Fatalf("room association not removed")
	}
	if _, ok := reg.GetSession("s2"); !ok {
		t.Fatalf("session must survive room removal")
	}

	if !reg.Cancel("s1") || !canceled {
		t.Fatalf("cancel not invoked")
	}
	reg.Unbind("s1")
	if reg.Cancel("s1") {
		t.Fatalf("cancel on unbound sid must report false")
	}
}

func TestRoomManagerGetOrCreate(t *testing.T) {
	m := NewRoomManager()
	a := m.GetOrCreate("demo-1")
	if b := m.GetOrCreate("demo-1"); a != b {
		t.Fatalf("GetOrCreate returned a different room")
	}
	if _, ok := m.Get("missing"); ok {
		t.Fatalf("Get must not create")
	}
	if len(m.List()) != 1 {
		t.Fatalf("List = %+v", m.List())
	}
	if l := m.List(); l[0].Name != "demo-1" || l[0].CreatedAt.IsZero() {
		t.Fatalf("room info = %+v", l[0])
	}
	m.StopRoom("demo-1")
	if _, ok := m.Get("demo-1"); ok {
		t.Fatalf("room not stopped")
	}
}
