// Package reconnect implements the Reconnection Controller (spec §4.8):
// host and player grace-period timers, host hand-off, and multi-tab
// takeover resolution. Its timer shape is grounded on the teacher's
// Hub.removeRoom (internal/v1/session/hub.go): a time.AfterFunc whose
// callback re-checks the guarded state before acting, with the timer's
// Stop func stashed so a reconnect can cancel it.
package reconnect

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lexiclash/core/internal/collaborators"
	"github.com/lexiclash/core/internal/domain"
	"github.com/lexiclash/core/internal/registry"
	"github.com/lexiclash/core/internal/room"
)

// Broadcaster is the narrow broadcast surface the controller needs. Kept
// local (rather than importing the dispatcher package) to avoid an import
// cycle, mirroring roundcoordinator.Broadcaster.
type Broadcaster interface {
	BroadcastToRoom(code domain.RoomCode, event string, payload any)
	SendToParticipant(code domain.RoomCode, name domain.ParticipantName, event string, payload any)
}

// RoomRemover is the narrow Room Store surface needed to destroy a room
// with no eligible host left.
type RoomRemover interface {
	Remove(code domain.RoomCode)
}

type Config struct {
	HostGracePeriod   time.Duration
	PlayerGracePeriod time.Duration
	TakeoverDelay     time.Duration
}

// Controller owns the host/player disconnect grace timers and the host
// hand-off and multi-tab takeover decisions for every room. One instance
// serves the whole process; per-room timer handles live on room.Room.Timers.
type Controller struct {
	broadcast   Broadcaster
	rooms       RoomRemover
	tournaments *collaborators.TournamentNotifier
	log         *zap.Logger

	hostGrace     time.Duration
	playerGrace   time.Duration
	takeoverDelay time.Duration
}

func New(cfg Config, broadcast Broadcaster, rooms RoomRemover, tournaments *collaborators.TournamentNotifier, log *zap.Logger) *Controller {
	return &Controller{
		broadcast: broadcast, rooms: rooms, tournaments: tournaments, log: log,
		hostGrace: cfg.HostGracePeriod, playerGrace: cfg.PlayerGracePeriod, takeoverDelay: cfg.TakeoverDelay,
	}
}

// TakeoverDelay exposes the configured delay so the transport layer can
// time its own socket close after sending sessionTakenOver/sessionMigrated.
func (c *Controller) TakeoverDelay() time.Duration { return c.takeoverDelay }

// HandleHostDisconnect marks the host disconnected, broadcasts
// hostDisconnected, and arms the grace-period timer that performs hand-off
// on expiry (spec §4.8 "Host disconnect"). Called by the transport layer's
// close notification, not while any room lock is held.
func (c *Controller) HandleHostDisconnect(r *room.Room, now time.Time) {
	r.Mu.Lock()
	p := r.Participants[r.Host]
	if p == nil || p.Disconnected {
		r.Mu.Unlock()
		return
	}
	p.Disconnected = true
	p.DisconnectedAt = now
	p.ConnectionID = ""
	r.HostConnectionID = ""
	code := r.Code
	r.Mu.Unlock()

	c.broadcast.BroadcastToRoom(code, "hostDisconnected", map[string]int64{"gracePeriodMs": c.hostGrace.Milliseconds()})

	timer := time.AfterFunc(c.hostGrace, func() { c.fireHostGrace(r) })

	r.Mu.Lock()
	r.Timers.HostReconnect = timer.Stop
	r.Mu.Unlock()
}

// fireHostGrace runs when the host grace period elapses with no reconnect.
// Re-checks the host's disconnected state before acting, since a reconnect
// racing the timer may have already cancelled it.
func (c *Controller) fireHostGrace(r *room.Room) {
	r.Mu.Lock()
	p := r.Participants[r.Host]
	if p == nil || !p.Disconnected {
		r.Mu.Unlock()
		return
	}
	r.Timers.HostReconnect = nil

	active := r.ActiveParticipants()
	if len(active) == 0 {
		code := r.Code
		r.Mu.Unlock()
		c.rooms.Remove(code)
		return
	}

	oldHost := r.Host
	if old := r.Participants[oldHost]; old != nil {
		old.IsHost = false
	}
	newHost := active[0] // earliest JoinedAt among active, non-spectator participants
	newHost.IsHost = true
	r.Host = newHost.Name
	r.HostConnectionID = newHost.ConnectionID
	code := r.Code
	r.Mu.Unlock()

	c.broadcast.BroadcastToRoom(code, "hostTransferred", map[string]string{"newHost": string(newHost.Name)})
}

// CancelHostGrace restores a reconnecting host's connection id and cancels
// the pending hand-off timer. Returns false if the host wasn't in a
// disconnected-and-waiting state (nothing to cancel).
func (c *Controller) CancelHostGrace(r *room.Room, connID domain.ConnectionID) bool {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	p := r.Participants[r.Host]
	if p == nil || !p.Disconnected {
		return false
	}
	if r.Timers.HostReconnect != nil {
		r.Timers.HostReconnect()
		r.Timers.HostReconnect = nil
	}
	p.Disconnected = false
	p.DisconnectedAt = time.Time{}
	p.ConnectionID = connID
	r.HostConnectionID = connID
	return true
}

// HandlePlayerDisconnect marks a non-host participant disconnected,
// broadcasts playerDisconnected, and arms their per-player grace timer
// (spec §4.8 "Player disconnect").
func (c *Controller) HandlePlayerDisconnect(r *room.Room, name domain.ParticipantName, now time.Time) {
	r.Mu.Lock()
	p := r.Participants[name]
	if p == nil || p.Disconnected || p.IsHost {
		r.Mu.Unlock()
		return
	}
	p.Disconnected = true
	p.DisconnectedAt = now
	p.ConnectionID = ""
	code := r.Code
	r.Mu.Unlock()

	c.broadcast.BroadcastToRoom(code, "playerDisconnected", map[string]string{"participant": string(name)})

	timer := time.AfterFunc(c.playerGrace, func() { c.firePlayerGrace(r, name) })

	r.Mu.Lock()
	if r.Timers.PlayerReconnect == nil {
		r.Timers.PlayerReconnect = map[domain.ParticipantName]func(){}
	}
	r.Timers.PlayerReconnect[name] = timer.Stop
	r.Mu.Unlock()
}

// firePlayerGrace removes a player whose grace period elapsed with no
// reconnect: data cleanup per spec §6.3, playerLeft broadcast, and a
// tournament-controller notification when the room is in tournament mode.
func (c *Controller) firePlayerGrace(r *room.Room, name domain.ParticipantName) {
	r.Mu.Lock()
	p := r.Participants[name]
	if p == nil || !p.Disconnected {
		r.Mu.Unlock()
		return
	}
	delete(r.Timers.PlayerReconnect, name)
	removeParticipantLocked(r, name)
	code := r.Code
	tournamentID := r.TournamentID
	r.Mu.Unlock()

	c.broadcast.BroadcastToRoom(code, "playerLeft", map[string]string{"participant": string(name)})

	if tournamentID != "" && c.tournaments != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		c.tournaments.NotifyPlayerLeft(ctx, tournamentID, string(code), string(name))
		cancel()
	}
}

// CancelPlayerGrace restores a reconnecting player's connection id and
// cancels their pending removal timer.
func (c *Controller) CancelPlayerGrace(r *room.Room, name domain.ParticipantName, connID domain.ConnectionID) bool {
	r.Mu.Lock()
	p := r.Participants[name]
	if p == nil || !p.Disconnected {
		r.Mu.Unlock()
		return false
	}
	if stop, ok := r.Timers.PlayerReconnect[name]; ok {
		stop()
		delete(r.Timers.PlayerReconnect, name)
	}
	p.Disconnected = false
	p.DisconnectedAt = time.Time{}
	p.ConnectionID = connID
	code := r.Code
	r.Mu.Unlock()

	c.broadcast.BroadcastToRoom(code, "playerReconnected", map[string]string{"participant": string(name)})
	return true
}

// HandleLeaveRoom implements the intentional-exit path (spec §4.1
// "leaveRoom  intentional exit (no grace period)"): unlike a disconnect,
// there is no grace timer — a departing host is replaced (or the room is
// destroyed if no one remains) immediately, and a departing player is
// removed immediately.
func (c *Controller) HandleLeaveRoom(r *room.Room, name domain.ParticipantName) {
	r.Mu.Lock()
	p := r.Participants[name]
	if p == nil {
		r.Mu.Unlock()
		return
	}
	wasHost := p.IsHost
	removeParticipantLocked(r, name)
	code := r.Code
	tournamentID := r.TournamentID

	if !wasHost {
		r.Mu.Unlock()
		c.broadcast.BroadcastToRoom(code, "playerLeft", map[string]string{"participant": string(name)})
		if tournamentID != "" && c.tournaments != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.tournaments.NotifyPlayerLeft(ctx, tournamentID, string(code), string(name))
			cancel()
		}
		return
	}

	active := r.ActiveParticipants()
	if len(active) == 0 {
		r.Mu.Unlock()
		c.rooms.Remove(code)
		return
	}
	newHost := active[0]
	newHost.IsHost = true
	r.Host = newHost.Name
	r.HostConnectionID = newHost.ConnectionID
	r.Mu.Unlock()

	c.broadcast.BroadcastToRoom(code, "hostTransferred", map[string]string{"newHost": string(newHost.Name)})
}

// removeParticipantLocked deletes every per-participant field (spec §6.3
// data cleanup). Caller must hold r.Mu.
func removeParticipantLocked(r *room.Room, name domain.ParticipantName) {
	delete(r.Participants, name)
	for i, n := range r.JoinOrder {
		if n == name {
			r.JoinOrder = append(r.JoinOrder[:i], r.JoinOrder[i+1:]...)
			break
		}
	}
	delete(r.Scores, name)
	delete(r.SubmittedWords, name)
	delete(r.WordDetails, name)
	delete(r.Combo, name)
	delete(r.AchievementsAwarded, name)
}

// TakeoverAction classifies a second authenticated connection arriving for
// an identity already tracked by the Connection Registry (spec §4.8
// "Multi-tab takeover").
type TakeoverAction int

const (
	// TakeoverIdempotent: the "new" connection is the same socket already
	// registered; skip disconnecting anything.
	TakeoverIdempotent TakeoverAction = iota
	// TakeoverSameRoom: an older socket in the same room must be told
	// sessionTakenOver and closed after TakeoverDelay.
	TakeoverSameRoom
	// TakeoverDifferentRoom: an older socket in a different room must be
	// told sessionMigrated, closed, and its room participation cleaned up.
	TakeoverDifferentRoom
)

// TakeoverDecision is the outcome of ResolveTakeover, for the dispatcher
// and transport layer to act on (sending the wire event and closing the
// old socket are transport-level concerns, not this package's).
type TakeoverDecision struct {
	Action      TakeoverAction
	OldConnID   domain.ConnectionID
	OldRoomCode domain.RoomCode
	WasHost     bool
}

// ResolveTakeover classifies an authenticated arrival against the
// registry's existing entry for that identity.
func ResolveTakeover(existing registry.Entry, newConnID domain.ConnectionID, newRoomCode domain.RoomCode) TakeoverDecision {
	if existing.ConnID == newConnID {
		return TakeoverDecision{Action: TakeoverIdempotent}
	}
	if existing.RoomCode == newRoomCode {
		return TakeoverDecision{Action: TakeoverSameRoom, OldConnID: existing.ConnID, OldRoomCode: existing.RoomCode, WasHost: existing.IsHost}
	}
	return TakeoverDecision{Action: TakeoverDifferentRoom, OldConnID: existing.ConnID, OldRoomCode: existing.RoomCode, WasHost: existing.IsHost}
}

// CleanupOldRoomParticipation implements the "different room" takeover
// branch's room-side half: close the old room if the arriving identity was
// its host, otherwise just remove them as a player.
func (c *Controller) CleanupOldRoomParticipation(oldRoom *room.Room, name domain.ParticipantName, wasHost bool) {
	if wasHost {
		oldRoom.Mu.Lock()
		code := oldRoom.Code
		oldRoom.Mu.Unlock()
		c.broadcast.BroadcastToRoom(code, "hostLeftRoomClosing", nil)
		c.rooms.Remove(code)
		return
	}

	oldRoom.Mu.Lock()
	removeParticipantLocked(oldRoom, name)
	code := oldRoom.Code
	oldRoom.Mu.Unlock()

	c.broadcast.BroadcastToRoom(code, "playerLeft", map[string]string{"participant": string(name)})
}
