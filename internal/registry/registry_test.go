package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lexiclash/core/internal/domain"
)

func TestPut_RegistersAllThreeMappings(t *testing.T) {
	r := New()
	e := Entry{RoomCode: "ABCD", Participant: "alice", ConnID: "conn1", IsHost: true}
	r.Put("auth-1", e)

	got, ok := r.ByConn("conn1")
	assert.True(t, ok)
	assert.Equal(t, e, got)

	connID, ok := r.ByRoomParticipant("ABCD", "alice")
	assert.True(t, ok)
	assert.Equal(t, domain.ConnectionID("conn1"), connID)

	authEntry, ok := r.ByAuth("auth-1")
	assert.True(t, ok)
	assert.Equal(t, e, authEntry)
}

func TestPut_EmptyAuthSkipsAuthMapping(t *testing.T) {
	r := New()
	r.Put("", Entry{RoomCode: "ABCD", Participant: "guest", ConnID: "conn2"})
	_, ok := r.ByAuth("")
	assert.False(t, ok)
}

func TestPut_OverwritesPreviousEntryForSameConn(t *testing.T) {
	r := New()
	r.Put("auth-1", Entry{RoomCode: "ABCD", Participant: "alice", ConnID: "conn1"})
	r.Put("auth-1", Entry{RoomCode: "WXYZ", Participant: "alice2", ConnID: "conn1"})

	got, ok := r.ByConn("conn1")
	assert.True(t, ok)
	assert.Equal(t, domain.RoomCode("WXYZ"), got.RoomCode)

	authEntry, ok := r.ByAuth("auth-1")
	assert.True(t, ok)
	assert.Equal(t, domain.RoomCode("WXYZ"), authEntry.RoomCode)
}

func TestRemoveByConn_DeletesAllThreeMappings(t *testing.T) {
	r := New()
	r.Put("auth-1", Entry{RoomCode: "ABCD", Participant: "alice", ConnID: "conn1"})

	removed, ok := r.RemoveByConn("conn1")
	assert.True(t, ok)
	assert.Equal(t, domain.ConnectionID("conn1"), removed.ConnID)

	_, ok = r.ByConn("conn1")
	assert.False(t, ok)
	_, ok = r.ByRoomParticipant("ABCD", "alice")
	assert.False(t, ok)
	_, ok = r.ByAuth("auth-1")
	assert.False(t, ok)
}

func TestRemoveByConn_UnknownConnReturnsFalse(t *testing.T) {
	r := New()
	_, ok := r.RemoveByConn("nope")
	assert.False(t, ok)
}

func TestRemoveByConn_DoesNotTouchOtherConnections(t *testing.T) {
	r := New()
	r.Put("auth-1", Entry{RoomCode: "ABCD", Participant: "alice", ConnID: "conn1"})
	r.Put("auth-2", Entry{RoomCode: "ABCD", Participant: "bob", ConnID: "conn2"})

	r.RemoveByConn("conn1")

	got, ok := r.ByConn("conn2")
	assert.True(t, ok)
	assert.Equal(t, domain.ParticipantName("bob"), got.Participant)
	_, ok = r.ByAuth("auth-2")
	assert.True(t, ok)
}
