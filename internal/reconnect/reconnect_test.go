package reconnect

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/lexiclash/core/internal/domain"
	"github.com/lexiclash/core/internal/registry"
	"github.com/lexiclash/core/internal/room"
)

type broadcastCall struct {
	code    domain.RoomCode
	event   string
	payload any
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (f *fakeBroadcaster) BroadcastToRoom(code domain.RoomCode, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, broadcastCall{code, event, payload})
}

func (f *fakeBroadcaster) SendToParticipant(code domain.RoomCode, name domain.ParticipantName, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, broadcastCall{code, event, payload})
}

func (f *fakeBroadcaster) eventsFor(code domain.RoomCode) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if c.code == code {
			out = append(out, c.event)
		}
	}
	return out
}

type fakeRoomRemover struct {
	mu      sync.Mutex
	removed []domain.RoomCode
}

func (f *fakeRoomRemover) Remove(code domain.RoomCode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, code)
}

func (f *fakeRoomRemover) wasRemoved(code domain.RoomCode) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.removed {
		if c == code {
			return true
		}
	}
	return false
}

func newTestRoom(host domain.ParticipantName) *room.Room {
	r := room.New("ABCD", "Test Room", domain.LanguageEnglish, false, false, time.Now())
	r.Host = host
	r.AddParticipant(&room.ParticipantRecord{Name: host, IsHost: true, ConnectionID: "host-conn", JoinedAt: time.Now()})
	r.HostConnectionID = "host-conn"
	return r
}

func newTestController(bc *fakeBroadcaster, rr *fakeRoomRemover, hostGrace, playerGrace time.Duration) *Controller {
	return New(Config{HostGracePeriod: hostGrace, PlayerGracePeriod: playerGrace, TakeoverDelay: 50 * time.Millisecond}, bc, rr, nil, zap.NewNop())
}

// TestHandleHostDisconnect_GraceExpiryHandsOffToEarliestActiveParticipant
// covers spec §8 scenario 4: the host drops, the grace period elapses with
// no reconnect, and the earliest-joined remaining participant becomes host.
func TestHandleHostDisconnect_GraceExpiryHandsOffToEarliestActiveParticipant(t *testing.T) {
	bc := &fakeBroadcaster{}
	rr := &fakeRoomRemover{}
	c := newTestController(bc, rr, 10*time.Millisecond, time.Hour)

	r := newTestRoom("alice")
	r.AddParticipant(&room.ParticipantRecord{Name: "bob", ConnectionID: "bob-conn", JoinedAt: time.Now().Add(time.Second)})

	c.HandleHostDisconnect(r, time.Now())
	assert.Contains(t, bc.eventsFor(r.Code), "hostDisconnected")

	assert.Eventually(t, func() bool {
		r.Mu.Lock()
		defer r.Mu.Unlock()
		return r.Host == "bob"
	}, 2*time.Second, 5*time.Millisecond)

	r.Mu.Lock()
	assert.True(t, r.Participants["bob"].IsHost)
	assert.False(t, r.Participants["alice"].IsHost)
	r.Mu.Unlock()
	assert.Contains(t, bc.eventsFor(r.Code), "hostTransferred")
}

func TestHandleHostDisconnect_GraceExpiryWithNoOneLeftRemovesRoom(t *testing.T) {
	bc := &fakeBroadcaster{}
	rr := &fakeRoomRemover{}
	c := newTestController(bc, rr, 10*time.Millisecond, time.Hour)

	r := newTestRoom("alice")
	c.HandleHostDisconnect(r, time.Now())

	assert.Eventually(t, func() bool {
		return rr.wasRemoved(r.Code)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCancelHostGrace_RestoresHostBeforeGraceExpires(t *testing.T) {
	bc := &fakeBroadcaster{}
	rr := &fakeRoomRemover{}
	c := newTestController(bc, rr, 200*time.Millisecond, time.Hour)

	r := newTestRoom("alice")
	c.HandleHostDisconnect(r, time.Now())

	ok := c.CancelHostGrace(r, "new-host-conn")
	assert.True(t, ok)

	r.Mu.Lock()
	assert.False(t, r.Participants["alice"].Disconnected)
	assert.Equal(t, domain.ConnectionID("new-host-conn"), r.HostConnectionID)
	r.Mu.Unlock()

	// Give the (cancelled) grace timer a chance to have misfired.
	time.Sleep(250 * time.Millisecond)
	r.Mu.Lock()
	assert.Equal(t, domain.ParticipantName("alice"), r.Host)
	r.Mu.Unlock()
}

func TestCancelHostGrace_FalseWhenHostNotDisconnected(t *testing.T) {
	bc := &fakeBroadcaster{}
	rr := &fakeRoomRemover{}
	c := newTestController(bc, rr, time.Hour, time.Hour)

	r := newTestRoom("alice")
	assert.False(t, c.CancelHostGrace(r, "conn"))
}

func TestHandlePlayerDisconnect_GraceExpiryRemovesPlayer(t *testing.T) {
	bc := &fakeBroadcaster{}
	rr := &fakeRoomRemover{}
	c := newTestController(bc, rr, time.Hour, 10*time.Millisecond)

	r := newTestRoom("alice")
	r.AddParticipant(&room.ParticipantRecord{Name: "bob", ConnectionID: "bob-conn", JoinedAt: time.Now()})

	c.HandlePlayerDisconnect(r, "bob", time.Now())
	assert.Contains(t, bc.eventsFor(r.Code), "playerDisconnected")

	assert.Eventually(t, func() bool {
		r.Mu.Lock()
		defer r.Mu.Unlock()
		_, stillThere := r.Participants["bob"]
		return !stillThere
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, bc.eventsFor(r.Code), "playerLeft")
}

func TestCancelPlayerGrace_RestoresPlayerBeforeGraceExpires(t *testing.T) {
	bc := &fakeBroadcaster{}
	rr := &fakeRoomRemover{}
	c := newTestController(bc, rr, time.Hour, 200*time.Millisecond)

	r := newTestRoom("alice")
	r.AddParticipant(&room.ParticipantRecord{Name: "bob", ConnectionID: "bob-conn", JoinedAt: time.Now()})
	c.HandlePlayerDisconnect(r, "bob", time.Now())

	ok := c.CancelPlayerGrace(r, "bob", "bob-conn-2")
	assert.True(t, ok)

	r.Mu.Lock()
	assert.False(t, r.Participants["bob"].Disconnected)
	r.Mu.Unlock()
}

func TestHandleLeaveRoom_NonHostRemovedImmediatelyNoGrace(t *testing.T) {
	bc := &fakeBroadcaster{}
	rr := &fakeRoomRemover{}
	c := newTestController(bc, rr, time.Hour, time.Hour)

	r := newTestRoom("alice")
	r.AddParticipant(&room.ParticipantRecord{Name: "bob", ConnectionID: "bob-conn", JoinedAt: time.Now()})

	c.HandleLeaveRoom(r, "bob")

	r.Mu.Lock()
	_, stillThere := r.Participants["bob"]
	r.Mu.Unlock()
	assert.False(t, stillThere)
	assert.Contains(t, bc.eventsFor(r.Code), "playerLeft")
}

func TestHandleLeaveRoom_HostHandsOffImmediately(t *testing.T) {
	bc := &fakeBroadcaster{}
	rr := &fakeRoomRemover{}
	c := newTestController(bc, rr, time.Hour, time.Hour)

	r := newTestRoom("alice")
	r.AddParticipant(&room.ParticipantRecord{Name: "bob", ConnectionID: "bob-conn", JoinedAt: time.Now()})

	c.HandleLeaveRoom(r, "alice")

	r.Mu.Lock()
	assert.Equal(t, domain.ParticipantName("bob"), r.Host)
	assert.True(t, r.Participants["bob"].IsHost)
	r.Mu.Unlock()
	assert.Contains(t, bc.eventsFor(r.Code), "hostTransferred")
}

func TestHandleLeaveRoom_LastParticipantLeavingRemovesRoom(t *testing.T) {
	bc := &fakeBroadcaster{}
	rr := &fakeRoomRemover{}
	c := newTestController(bc, rr, time.Hour, time.Hour)

	r := newTestRoom("alice")
	c.HandleLeaveRoom(r, "alice")
	assert.True(t, rr.wasRemoved(r.Code))
}

// TestResolveTakeover covers spec §8 scenario 5's three classification
// branches as a pure function.
func TestResolveTakeover_SameConnIsIdempotent(t *testing.T) {
	existing := registry.Entry{ConnID: "conn-1", RoomCode: "ABCD"}
	decision := ResolveTakeover(existing, "conn-1", "ABCD")
	assert.Equal(t, TakeoverIdempotent, decision.Action)
}

func TestResolveTakeover_SameRoomDifferentConnIsSameRoomTakeover(t *testing.T) {
	existing := registry.Entry{ConnID: "conn-old", RoomCode: "ABCD", IsHost: true}
	decision := ResolveTakeover(existing, "conn-new", "ABCD")
	assert.Equal(t, TakeoverSameRoom, decision.Action)
	assert.Equal(t, domain.ConnectionID("conn-old"), decision.OldConnID)
	assert.True(t, decision.WasHost)
}

func TestResolveTakeover_DifferentRoomIsMigration(t *testing.T) {
	existing := registry.Entry{ConnID: "conn-old", RoomCode: "OLD1"}
	decision := ResolveTakeover(existing, "conn-new", "NEW1")
	assert.Equal(t, TakeoverDifferentRoom, decision.Action)
	assert.Equal(t, domain.RoomCode("OLD1"), decision.OldRoomCode)
}

func TestCleanupOldRoomParticipation_HostClosesOldRoom(t *testing.T) {
	bc := &fakeBroadcaster{}
	rr := &fakeRoomRemover{}
	c := newTestController(bc, rr, time.Hour, time.Hour)

	oldRoom := newTestRoom("alice")
	c.CleanupOldRoomParticipation(oldRoom, "alice", true)

	assert.True(t, rr.wasRemoved(oldRoom.Code))
	assert.Contains(t, bc.eventsFor(oldRoom.Code), "hostLeftRoomClosing")
}

func TestCleanupOldRoomParticipation_NonHostJustRemoved(t *testing.T) {
	bc := &fakeBroadcaster{}
	rr := &fakeRoomRemover{}
	c := newTestController(bc, rr, time.Hour, time.Hour)

	oldRoom := newTestRoom("alice")
	oldRoom.AddParticipant(&room.ParticipantRecord{Name: "bob", ConnectionID: "bob-conn", JoinedAt: time.Now()})

	c.CleanupOldRoomParticipation(oldRoom, "bob", false)

	oldRoom.Mu.Lock()
	_, stillThere := oldRoom.Participants["bob"]
	oldRoom.Mu.Unlock()
	assert.False(t, stillThere)
	assert.False(t, rr.wasRemoved(oldRoom.Code))
	assert.Contains(t, bc.eventsFor(oldRoom.Code), "playerLeft")
}
