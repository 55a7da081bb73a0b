// Package dispatcher's Dispatcher owns the single Dispatch entry point
// every wire message passes through. Grounded on the teacher's Room.Router
// switch (internal/v1/session/room.go): a per-event gate deciding which
// roles may invoke it, followed by a call into an operation-specific
// handler. The distributed-pod migration suppression named in spec §4.1
// ("suppress handling for a session mid cross-pod migration") is modeled
// here as a per-connection-id skip-set the transport layer populates
// around a takeover.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"k8s.io/utils/set"

	"github.com/lexiclash/core/internal/boardvalidator"
	"github.com/lexiclash/core/internal/collaborators"
	"github.com/lexiclash/core/internal/dictionary"
	"github.com/lexiclash/core/internal/domain"
	"github.com/lexiclash/core/internal/persist"
	"github.com/lexiclash/core/internal/ratelimit"
	"github.com/lexiclash/core/internal/reconnect"
	"github.com/lexiclash/core/internal/registry"
	"github.com/lexiclash/core/internal/room"
	"github.com/lexiclash/core/internal/roundcoordinator"
)

// RoomBroadcaster is the wire-facing broadcast surface. Implemented by the
// transport package's Hub; the dispatcher only ever needs this narrow view
// plus room lookups, so it's declared here rather than importing transport
// (which imports dispatcher, not the reverse).
type RoomBroadcaster interface {
	BroadcastToRoom(code domain.RoomCode, event string, payload any)
	SendToParticipant(code domain.RoomCode, name domain.ParticipantName, event string, payload any)
	BroadcastToRoomExcept(code domain.RoomCode, event string, payload any, except domain.ConnectionID)
}

// Config bundles the timing knobs the dispatcher's handlers need, sourced
// from config.Config.
type Config struct {
	MinWordLength        int
	DefaultRoundDuration int // seconds
	ValidationWindow     time.Duration
	RateWeightSubmitWord int
	RateWeightChat       int
	LeaderboardThrottle  time.Duration
}

// Dispatcher is the single entry point for inbound wire messages (spec
// §4.1 item 8). One instance serves the whole process.
type Dispatcher struct {
	rooms       *room.Store
	registry    *registry.Registry
	broadcast   RoomBroadcaster
	persist     *persist.Mirror
	coordinator *roundcoordinator.Coordinator
	reconnect   *reconnect.Controller
	oracle      dictionary.Oracle
	validator   *boardvalidator.Pool
	ai          *collaborators.AIOracleClient
	vote        *collaborators.CommunityVoteHook
	rateLimit   *ratelimit.RateLimiter
	log         *zap.Logger

	cfg Config

	suppressedMu sync.RWMutex
	suppressed   map[domain.ConnectionID]bool

	leaderboard *leaderboardCoalescer
}

func New(
	cfg Config,
	rooms *room.Store,
	reg *registry.Registry,
	broadcast RoomBroadcaster,
	mirror *persist.Mirror,
	coordinator *roundcoordinator.Coordinator,
	reconnectCtl *reconnect.Controller,
	oracle dictionary.Oracle,
	validator *boardvalidator.Pool,
	ai *collaborators.AIOracleClient,
	vote *collaborators.CommunityVoteHook,
	rateLimit *ratelimit.RateLimiter,
	log *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		rooms: rooms, registry: reg, broadcast: broadcast, persist: mirror,
		coordinator: coordinator, reconnect: reconnectCtl, oracle: oracle, validator: validator,
		ai: ai, vote: vote, rateLimit: rateLimit, log: log, cfg: cfg,
		suppressed:  map[domain.ConnectionID]bool{},
		leaderboard: newLeaderboardCoalescer(),
	}
}

// Suppress marks connID's messages as dropped without effect, used while a
// multi-tab takeover is in flight for that identity (spec §4.8).
func (d *Dispatcher) Suppress(connID domain.ConnectionID) {
	d.suppressedMu.Lock()
	d.suppressed[connID] = true
	d.suppressedMu.Unlock()
}

// Unsuppress clears a previously suppressed connection, e.g. after the
// losing socket of a takeover is closed and its id can never recur.
func (d *Dispatcher) Unsuppress(connID domain.ConnectionID) {
	d.suppressedMu.Lock()
	delete(d.suppressed, connID)
	d.suppressedMu.Unlock()
}

func (d *Dispatcher) isSuppressed(connID domain.ConnectionID) bool {
	d.suppressedMu.RLock()
	defer d.suppressedMu.RUnlock()
	return d.suppressed[connID]
}

// Dispatch routes one decoded wire message from conn. It resolves the
// caller's room and role (when applicable), checks per-message weight
// against the per-user rate limit, then calls the event's handler.
// Handlers that need no existing room (createRoom) are special-cased since
// they run before any room/role resolution is possible.
func (d *Dispatcher) Dispatch(ctx context.Context, conn Conn, msg Message) {
	if d.isSuppressed(conn.ConnID()) {
		return
	}

	switch msg.Event {
	case EventCreateRoom:
		d.handleCreateRoom(ctx, conn, msg)
		return
	case EventJoin:
		d.handleJoin(ctx, conn, msg)
		return
	case EventGetActiveRooms:
		d.handleGetActiveRooms(ctx, conn, msg)
		return
	case EventPing:
		conn.Send(OutboundMessage{Event: EventPong})
		return
	}

	entry, ok := d.registry.ByConn(conn.ConnID())
	if !ok {
		conn.Send(OutboundMessage{Event: EventError, Payload: map[string]string{"error": "not joined to a room"}})
		return
	}
	r := d.rooms.Get(entry.RoomCode)
	if r == nil {
		conn.Send(OutboundMessage{Event: EventError, Payload: map[string]string{"error": "room no longer exists"}})
		return
	}

	weight := d.weightFor(msg.Event)
	if weight > 0 && d.rateLimit != nil {
		for i := 0; i < weight; i++ {
			if err := d.rateLimit.CheckWebSocketUser(ctx, string(conn.AuthUserID())); err != nil {
				conn.Send(OutboundMessage{Event: EventError, Payload: map[string]string{"error": "rate limit exceeded"}})
				return
			}
		}
	}

	r.Mu.Lock()
	p := r.Participants[entry.Participant]
	if p == nil {
		r.Mu.Unlock()
		return
	}
	role := roleOf(p.IsHost, p.IsSpectator)
	r.Mu.Unlock()

	allowed := d.rolesFor(msg.Event)
	if !allowed.Has(role) {
		conn.Send(OutboundMessage{Event: EventError, Payload: map[string]string{"error": "forbidden"}})
		return
	}

	switch msg.Event {
	case EventStartGame:
		d.handleStartGame(ctx, conn, r, msg)
	case EventStartGameAck:
		d.handleStartGameAck(ctx, conn, r, msg)
	case EventSubmitWord:
		d.handleSubmitWord(ctx, conn, r, msg)
	case EventEndGame:
		d.handleEndGame(ctx, conn, r, msg)
	case EventValidateWords:
		d.handleValidateWords(ctx, conn, r, msg)
	case EventResetGame:
		d.handleResetGame(ctx, conn, r, msg)
	case EventCloseRoom:
		d.handleCloseRoom(ctx, conn, r, msg)
	case EventChatMessage:
		d.handleChatMessage(ctx, conn, r, msg)
	case EventLeaveRoom:
		d.handleLeaveRoom(ctx, conn, r, msg)
	case EventPresenceHeartbeat:
		d.handlePresenceHeartbeat(ctx, conn, r, msg)
	case EventPresenceUpdate:
		d.handlePresenceUpdate(ctx, conn, r, msg)
	case EventCreateTournament, EventStartTournamentRound, EventGetTournamentStandings, EventCancelTournament, EventSubmitWordVote:
		d.handleTournamentPassthrough(ctx, conn, r, msg)
	default:
		if d.log != nil {
			d.log.Warn("unknown event", zap.String("event", string(msg.Event)))
		}
	}
}

func (d *Dispatcher) weightFor(event Event) int {
	switch event {
	case EventSubmitWord:
		return d.cfg.RateWeightSubmitWord
	case EventChatMessage:
		return d.cfg.RateWeightChat
	default:
		return 0
	}
}

func (d *Dispatcher) rolesFor(event Event) set.Set[RoleType] {
	switch event {
	case EventStartGame, EventEndGame, EventValidateWords, EventResetGame, EventCloseRoom,
		EventCreateTournament, EventStartTournamentRound, EventCancelTournament:
		return HasHostPermission()
	case EventSubmitWord, EventChatMessage, EventSubmitWordVote:
		return HasParticipantPermission()
	default:
		return HasAnyPermission()
	}
}
