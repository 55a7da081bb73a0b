// Package registry implements the Connection Registry (spec §4.2): three
// mappings under one discipline, updated atomically on join, reconnect, and
// disconnect. Grounded on the teacher's Hub pattern of a coarse lock over
// several related maps (internal/v1/session.Hub), generalized from "one map
// of rooms" to the three index-preserving mappings the distilled spec
// names explicitly.
package registry

import (
	"sync"

	"github.com/lexiclash/core/internal/domain"
)

// Entry is the registry's view of one live connection.
type Entry struct {
	RoomCode    domain.RoomCode
	Participant domain.ParticipantName
	ConnID      domain.ConnectionID
	IsHost      bool
}

// Registry holds the three mappings described in spec §4.2:
//   - connectionId -> (roomCode, participantName)
//   - (roomCode, participantName) -> connectionId
//   - authUserId -> (roomCode, participantName, connectionId, isHost)
type Registry struct {
	mu sync.RWMutex

	byConn    map[domain.ConnectionID]Entry
	byRoomKey map[roomParticipantKey]domain.ConnectionID
	byAuth    map[domain.AuthUserID]Entry
}

type roomParticipantKey struct {
	room domain.RoomCode
	name domain.ParticipantName
}

func New() *Registry {
	return &Registry{
		byConn:    map[domain.ConnectionID]Entry{},
		byRoomKey: map[roomParticipantKey]domain.ConnectionID{},
		byAuth:    map[domain.AuthUserID]Entry{},
	}
}

// Put registers or overwrites all three mappings for one connection
// atomically. auth may be empty for unauthenticated/guest connections.
func (r *Registry) Put(auth domain.AuthUserID, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConn[e.ConnID] = e
	r.byRoomKey[roomParticipantKey{e.RoomCode, e.Participant}] = e.ConnID
	if auth != "" {
		r.byAuth[auth] = e
	}
}

// RemoveByConn deletes every mapping that references connID. Returns the
// removed entry, or ok=false if it wasn't present.
func (r *Registry) RemoveByConn(connID domain.ConnectionID) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byConn[connID]
	if !ok {
		return Entry{}, false
	}
	delete(r.byConn, connID)
	delete(r.byRoomKey, roomParticipantKey{e.RoomCode, e.Participant})
	for auth, existing := range r.byAuth {
		if existing.ConnID == connID {
			delete(r.byAuth, auth)
		}
	}
	return e, true
}

// ByConn reads one connection's entry under the registry's read lock; it is
// not lock-free and waits for any writer holding the lock.
func (r *Registry) ByConn(connID domain.ConnectionID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byConn[connID]
	return e, ok
}

// ByRoomParticipant resolves a participant's current connection id within a
// room.
func (r *Registry) ByRoomParticipant(room domain.RoomCode, name domain.ParticipantName) (domain.ConnectionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byRoomKey[roomParticipantKey{room, name}]
	return id, ok
}

// ByAuth resolves an authenticated user's current connection entry, used to
// detect a second connection arriving for the same identity (spec §4.8
// "Multi-tab takeover").
func (r *Registry) ByAuth(auth domain.AuthUserID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byAuth[auth]
	return e, ok
}
