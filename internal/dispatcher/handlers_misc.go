package dispatcher

import (
	"context"
	"strings"
	"time"

	"github.com/lexiclash/core/internal/domain"
	"github.com/lexiclash/core/internal/room"
)

// ChatPayload is the chat(text) operation's payload (spec §4.1).
type ChatPayload struct {
	Text string `json:"text"`
}

// handleChatMessage implements chat(text): broadcast, sanitized,
// profanity-filtered.
func (d *Dispatcher) handleChatMessage(ctx context.Context, conn Conn, r *room.Room, msg Message) {
	p, ok := assertPayload[ChatPayload](msg.Payload, d.log)
	if !ok {
		return
	}
	text := sanitizeChat(p.Text)
	if text == "" {
		return
	}

	entry, found := d.registry.ByConn(conn.ConnID())
	if !found {
		return
	}

	r.Mu.Lock()
	r.LastActivityAt = time.Now()
	code := r.Code
	r.Mu.Unlock()

	d.broadcast.BroadcastToRoom(code, string(EventChatMessage), map[string]string{
		"participant": string(entry.Participant), "text": text,
	})
}

// sanitizeChat trims whitespace, bounds length, and masks blocklisted
// tokens rather than rejecting the whole message — matching the distilled
// spec's "sanitized, profanity-filtered" chat contract, which (unlike
// submitWord's exact-match rejection) operates on free text.
func sanitizeChat(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if len([]rune(text)) > 500 {
		text = string([]rune(text)[:500])
	}
	words := strings.Fields(text)
	for i, w := range words {
		if profanityBlocklist[strings.ToLower(w)] {
			words[i] = strings.Repeat("*", len(w))
		}
	}
	return strings.Join(words, " ")
}

// PresenceHeartbeatPayload is the presenceHeartbeat() operation's payload —
// empty; the heartbeat's value is its arrival time, recorded against the
// sender's connection.
type PresenceHeartbeatPayload struct{}

// handlePresenceHeartbeat records a heartbeat for the background presence
// sampler (spec §4.8 "Presence") to measure staleness against.
func (d *Dispatcher) handlePresenceHeartbeat(ctx context.Context, conn Conn, r *room.Room, msg Message) {
	entry, found := d.registry.ByConn(conn.ConnID())
	if !found {
		return
	}
	r.Mu.Lock()
	if p := r.Participants[entry.Participant]; p != nil {
		p.LastHeartbeatAt = time.Now()
		if p.MissedHeartbeats > 0 {
			p.MissedHeartbeats = 0
		}
	}
	r.Mu.Unlock()
}

// PresenceUpdatePayload is the presenceUpdate(focused/idle) operation's
// payload (spec §4.1/§4.8).
type PresenceUpdatePayload struct {
	Focused bool `json:"focused"`
}

// handlePresenceUpdate records an explicit focused/idle signal from the
// client, distinct from handlePresenceHeartbeat's liveness ping.
func (d *Dispatcher) handlePresenceUpdate(ctx context.Context, conn Conn, r *room.Room, msg Message) {
	p, ok := assertPayload[PresenceUpdatePayload](msg.Payload, d.log)
	if !ok {
		return
	}
	entry, found := d.registry.ByConn(conn.ConnID())
	if !found {
		return
	}

	status := domain.PresenceIdle
	if p.Focused {
		status = domain.PresenceActive
	}

	r.Mu.Lock()
	participant := r.Participants[entry.Participant]
	if participant != nil {
		participant.PresenceStatus = status
	}
	code := r.Code
	r.Mu.Unlock()
	if participant == nil {
		return
	}

	d.broadcast.BroadcastToRoom(code, string(EventPlayerConnectionStatusChanged), map[string]string{
		"participant": string(entry.Participant), "status": string(status),
	})
}

// handleTournamentPassthrough covers the tournament-mode wire operations
// (createTournament, startTournamentRound, getTournamentStandings,
// cancelTournament, submitWordVote). Tournament aggregation is out of the
// core's scope (spec §1: "persistent leaderboard and XP aggregation in the
// analytical database"); the core's only tournament-facing responsibility
// is notifying the Tournament Notifier collaborator on player departure
// (already wired in reconnect.Controller) and persisting the
// tournament id on the room aggregate it's handed. Every operation routed
// here is answered with an error event and nothing is forwarded.
func (d *Dispatcher) handleTournamentPassthrough(ctx context.Context, conn Conn, r *room.Room, msg Message) {
	d.sendError(conn, "tournament operations are handled by an external subsystem")
}
