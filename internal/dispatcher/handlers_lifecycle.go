package dispatcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lexiclash/core/internal/domain"
	"github.com/lexiclash/core/internal/reconnect"
	"github.com/lexiclash/core/internal/registry"
	"github.com/lexiclash/core/internal/room"
)

// CreateRoomPayload is the createGame operation's payload (spec §4.1).
type CreateRoomPayload struct {
	Code          string `json:"code"`
	HostName      string `json:"hostName"`
	Language      string `json:"language"`
	Ranked        bool   `json:"ranked"`
	Avatar        string `json:"avatar"`
	AuthID        string `json:"authId"`
	AllowLateJoin bool   `json:"allowLateJoin"`
}

// handleCreateRoom implements createRoom(code, hostName, language, ranked,
// avatar, authId): fails with CodeInUse unless the existing room is the
// same auth user migrating from the same socket (spec §4.8).
func (d *Dispatcher) handleCreateRoom(ctx context.Context, conn Conn, msg Message) {
	p, ok := assertPayload[CreateRoomPayload](msg.Payload, d.log)
	if !ok || p.Code == "" || p.HostName == "" {
		d.sendError(conn, "invalid createRoom payload")
		return
	}
	lang := domain.Language(p.Language)
	if !domain.ValidLanguage(lang) {
		lang = domain.LanguageEnglish
	}

	if existing := d.rooms.Get(domain.RoomCode(p.Code)); existing != nil {
		if !d.isSameMigratingUser(existing, domain.AuthUserID(p.AuthID), conn.ConnID()) {
			d.sendError(conn, "CodeInUse")
			return
		}
		d.rooms.Remove(existing.Code)
	}

	now := time.Now()
	r := room.New(domain.RoomCode(p.Code), p.HostName, lang, p.Ranked, p.AllowLateJoin, now)
	host := &room.ParticipantRecord{
		Name: domain.ParticipantName(p.HostName), Avatar: p.Avatar, IsHost: true,
		ConnectionID: conn.ConnID(), AuthUserID: domain.AuthUserID(p.AuthID),
		JoinedAt: now, PresenceStatus: domain.PresenceActive, LastHeartbeatAt: now,
	}
	r.AddParticipant(host)
	r.Host = host.Name
	r.HostConnectionID = conn.ConnID()

	if !d.rooms.Insert(r) {
		d.sendError(conn, "CodeInUse")
		return
	}

	d.registry.Put(domain.AuthUserID(p.AuthID), registry.Entry{
		RoomCode: r.Code, Participant: host.Name, ConnID: conn.ConnID(), IsHost: true,
	})

	if d.persist != nil {
		go d.persist.SaveRoom(context.Background(), string(r.Code), roomSnapshot(r))
	}

	conn.Send(OutboundMessage{Event: EventJoined, Payload: map[string]any{
		"code": r.Code, "host": host.Name, "isHost": true, "reconnected": false,
	}})
}

// isSameMigratingUser reports whether the existing room's host socket is the
// same authenticated identity reconnecting from the same connection id
// (spec §4.1's carve-out for CodeInUse).
func (d *Dispatcher) isSameMigratingUser(existing *room.Room, authID domain.AuthUserID, connID domain.ConnectionID) bool {
	existing.Mu.Lock()
	defer existing.Mu.Unlock()
	host := existing.Participants[existing.Host]
	return host != nil && host.AuthUserID == authID && host.ConnectionID == connID
}

// JoinPayload is the join operation's payload (spec §4.1).
type JoinPayload struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
	AuthID string `json:"authId"`
}

// handleJoin implements join(code, name, avatar, authId): adds a
// participant, reconnects an existing one, or admits as spectator when the
// room is full and the game is already in progress.
func (d *Dispatcher) handleJoin(ctx context.Context, conn Conn, msg Message) {
	p, ok := assertPayload[JoinPayload](msg.Payload, d.log)
	if !ok || p.Code == "" || p.Name == "" {
		d.sendError(conn, "UsernameRequired")
		return
	}
	code := domain.RoomCode(p.Code)
	r := d.rooms.Get(code)
	if r == nil {
		d.sendError(conn, "RoomNotFound")
		return
	}

	authID := domain.AuthUserID(p.AuthID)
	if authID != "" {
		d.resolveTakeover(authID, conn, code)
	}

	now := time.Now()
	name := domain.ParticipantName(p.Name)

	r.Mu.Lock()
	existing := r.Participants[name]
	var wasDisconnected, isHost, isSpectator, roomFull, gameInProgress, allowLateJoin bool
	if existing != nil {
		wasDisconnected = existing.Disconnected
		isHost = existing.IsHost
		isSpectator = existing.IsSpectator
	} else {
		roomFull = len(r.ActiveParticipants()) >= maxRoomParticipants
		gameInProgress = r.GameState == domain.GameStateInProgress
		allowLateJoin = r.AllowLateJoin
	}
	r.Mu.Unlock()

	reconnected := false
	switch {
	case existing != nil && wasDisconnected && isHost:
		d.reconnect.CancelHostGrace(r, conn.ConnID())
		reconnected = true
	case existing != nil && wasDisconnected:
		d.reconnect.CancelPlayerGrace(r, name, conn.ConnID())
		reconnected = true
	case existing != nil:
		r.Mu.Lock()
		existing.ConnectionID = conn.ConnID()
		r.Mu.Unlock()
		reconnected = true
	case roomFull && gameInProgress:
		r.Mu.Lock()
		isSpectator = true
		r.AddParticipant(&room.ParticipantRecord{
			Name: name, Avatar: p.Avatar, AuthUserID: authID, JoinedAt: now,
			ConnectionID: conn.ConnID(), PresenceStatus: domain.PresenceActive,
			LastHeartbeatAt: now, IsSpectator: true,
		})
		r.Mu.Unlock()
	case roomFull:
		d.sendError(conn, "RoomFull")
		return
	case gameInProgress && !allowLateJoin:
		d.sendError(conn, "LateJoinBlocked")
		return
	default:
		r.Mu.Lock()
		r.AddParticipant(&room.ParticipantRecord{
			Name: name, Avatar: p.Avatar, AuthUserID: authID, JoinedAt: now,
			ConnectionID: conn.ConnID(), PresenceStatus: domain.PresenceActive, LastHeartbeatAt: now,
		})
		r.Mu.Unlock()
	}

	d.registry.Put(authID, registry.Entry{
		RoomCode: code, Participant: name, ConnID: conn.ConnID(), IsHost: isHost,
	})

	conn.Send(OutboundMessage{Event: EventJoined, Payload: map[string]any{
		"code": code, "participant": name, "isHost": isHost, "isSpectator": isSpectator, "reconnected": reconnected,
	}})
	d.broadcast.BroadcastToRoom(code, string(EventUpdateUsers), d.usersSnapshot(r))
}

// resolveTakeover implements spec §4.8 "Multi-tab takeover": an
// authenticated identity already tracked by the registry gets its old
// connection tagged migrating and notified before the new join proceeds.
func (d *Dispatcher) resolveTakeover(authID domain.AuthUserID, conn Conn, newRoomCode domain.RoomCode) {
	existing, found := d.registry.ByAuth(authID)
	if !found {
		return
	}
	decision := reconnect.ResolveTakeover(existing, conn.ConnID(), newRoomCode)
	switch decision.Action {
	case reconnect.TakeoverIdempotent:
		return
	case reconnect.TakeoverSameRoom:
		d.Suppress(decision.OldConnID)
		d.broadcast.SendToParticipant(decision.OldRoomCode, existing.Participant, string(EventSessionTakenOver), map[string]string{"gameCode": string(decision.OldRoomCode)})
	case reconnect.TakeoverDifferentRoom:
		d.Suppress(decision.OldConnID)
		d.broadcast.SendToParticipant(decision.OldRoomCode, existing.Participant, string(EventSessionMigrated), map[string]string{"gameCode": string(decision.OldRoomCode)})
		if oldRoom := d.rooms.Get(decision.OldRoomCode); oldRoom != nil {
			d.reconnect.CleanupOldRoomParticipation(oldRoom, existing.Participant, decision.WasHost)
		}
	}
}

// handleGetActiveRooms lists every waiting or joinable room, needing no
// existing room/role resolution (spec §4.1).
func (d *Dispatcher) handleGetActiveRooms(ctx context.Context, conn Conn, msg Message) {
	type roomSummary struct {
		Code        domain.RoomCode `json:"code"`
		Name        string          `json:"name"`
		Participants int            `json:"participants"`
		GameState   domain.GameState `json:"gameState"`
	}
	var out []roomSummary
	for _, code := range d.rooms.Codes() {
		r := d.rooms.Get(code)
		if r == nil {
			continue
		}
		r.Mu.Lock()
		out = append(out, roomSummary{Code: r.Code, Name: r.Name, Participants: len(r.ActiveParticipants()), GameState: r.GameState})
		r.Mu.Unlock()
	}
	conn.Send(OutboundMessage{Event: EventActiveRooms, Payload: out})
}

// handleCloseRoom implements closeRoom(): host only, destroys the room
// unconditionally regardless of who else remains.
func (d *Dispatcher) handleCloseRoom(ctx context.Context, conn Conn, r *room.Room, msg Message) {
	r.Mu.Lock()
	for _, name := range r.JoinOrder {
		if stop, ok := r.Timers.PlayerReconnect[name]; ok && stop != nil {
			stop()
		}
	}
	if r.Timers.HostReconnect != nil {
		r.Timers.HostReconnect()
	}
	if r.Timers.RoundTick != nil {
		r.Timers.RoundTick()
	}
	code := r.Code
	r.Mu.Unlock()

	d.rooms.Remove(code)
	d.broadcast.BroadcastToRoom(code, string(EventCloseRoom), nil)
	if d.persist != nil {
		go d.persist.DeleteRoom(context.Background(), string(code))
	}
}

// handleLeaveRoom implements leaveRoom(): intentional exit, no grace
// period.
func (d *Dispatcher) handleLeaveRoom(ctx context.Context, conn Conn, r *room.Room, msg Message) {
	entry, ok := d.registry.ByConn(conn.ConnID())
	if !ok {
		return
	}
	d.registry.RemoveByConn(conn.ConnID())
	d.reconnect.HandleLeaveRoom(r, entry.Participant)
}

func (d *Dispatcher) usersSnapshot(r *room.Room) []map[string]any {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	out := make([]map[string]any, 0, len(r.JoinOrder))
	for _, name := range r.JoinOrder {
		p := r.Participants[name]
		if p == nil {
			continue
		}
		out = append(out, map[string]any{
			"name": p.Name, "avatar": p.Avatar, "isHost": p.IsHost,
			"isSpectator": p.IsSpectator, "disconnected": p.Disconnected, "score": r.Scores[name],
		})
	}
	return out
}

// roomSnapshot builds the JSON-serializable view of r persisted by the
// Persistence Mirror (spec §4.4's "game" schema). Caller must hold no lock;
// it acquires r.Mu itself.
func roomSnapshot(r *room.Room) map[string]any {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	participants := make([]map[string]any, 0, len(r.JoinOrder))
	for _, name := range r.JoinOrder {
		p := r.Participants[name]
		if p == nil {
			continue
		}
		participants = append(participants, map[string]any{
			"name": p.Name, "avatar": p.Avatar, "isHost": p.IsHost,
			"isSpectator": p.IsSpectator, "authUserId": p.AuthUserID,
		})
	}
	return map[string]any{
		"code": r.Code, "name": r.Name, "language": r.Language,
		"ranked": r.IsRanked, "allowLateJoin": r.AllowLateJoin,
		"gameState": r.GameState, "host": r.Host,
		"participants": participants, "scores": r.Scores,
		"tournamentId": r.TournamentID,
	}
}

func (d *Dispatcher) sendError(conn Conn, reason string) {
	conn.Send(OutboundMessage{Event: EventError, Payload: map[string]string{"error": reason}})
	if d.log != nil {
		d.log.Debug("dispatch error", zap.String("reason", reason))
	}
}

// maxRoomParticipants bounds a room's active roster before late arrivals
// are admitted as spectators. Not named as a tunable in the distilled spec;
// recorded in DESIGN.md as a placeholder default.
const maxRoomParticipants = 16
