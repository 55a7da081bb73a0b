// Package dispatcher implements the Dispatcher (spec §4.1 item 8, §4.4):
// the single entry point for every inbound wire message, fanning out to the
// operation handlers after a rate-limit and permission gate. Its wire types
// (Event, Message, role-permission sets) and switch-on-event router shape
// are grounded on the teacher's session package (handlers.go's
// assertPayload/logHelper idiom, room.go's event switch and
// k8s.io/utils/set.Set[RoleType]-filtered broadcast) — the teacher never
// defines these identifiers in a single file either; Room.Router,
// HasHostPermission, Event and Message live only in its tests and are
// reconstructed here for a JSON wire protocol instead of protobuf.
package dispatcher

import (
	"encoding/json"

	"go.uber.org/zap"

	"k8s.io/utils/set"

	"github.com/lexiclash/core/internal/domain"
)

// Event is one wire message type named in spec §6 "Wire protocol". Go
// identifiers follow the dispatcher's semantic operation names (§4.1); the
// string values are the literal wire action/event names.
type Event string

const (
	// Inbound.
	EventCreateRoom        Event = "createGame"
	EventJoin              Event = "join"
	EventStartGame         Event = "startGame"
	EventStartGameAck      Event = "startGameAck"
	EventSubmitWord        Event = "submitWord"
	EventEndGame           Event = "endGame"
	EventValidateWords     Event = "validateWords"
	EventResetGame         Event = "resetGame"
	EventCloseRoom         Event = "closeRoom"
	EventChatMessage       Event = "chatMessage"
	EventLeaveRoom         Event = "leaveRoom"
	EventPresenceUpdate    Event = "presenceUpdate"
	EventPresenceHeartbeat Event = "presenceHeartbeat"
	EventPing              Event = "ping"
	EventGetActiveRooms    Event = "getActiveRooms"
	EventSubmitWordVote    Event = "submitWordVote"

	EventCreateTournament       Event = "createTournament"
	EventStartTournamentRound   Event = "startTournamentRound"
	EventGetTournamentStandings Event = "getTournamentStandings"
	EventCancelTournament       Event = "cancelTournament"

	// Outbound.
	EventJoined                         Event = "joined"
	EventUpdateUsers                    Event = "updateUsers"
	EventActiveRooms                    Event = "activeRooms"
	EventTimeUpdate                     Event = "timeUpdate"
	EventWordAccepted                   Event = "wordAccepted"
	EventWordRejected                   Event = "wordRejected"
	EventWordAlreadyFound               Event = "wordAlreadyFound"
	EventWordNotOnBoard                 Event = "wordNotOnBoard"
	EventWordTooShort                   Event = "wordTooShort"
	EventWordNeedsValidation            Event = "wordNeedsValidation"
	EventWordValidatingWithAI           Event = "wordValidatingWithAI"
	EventLiveAchievementUnlocked        Event = "liveAchievementUnlocked"
	EventUpdateLeaderboard              Event = "updateLeaderboard"
	EventShowValidation                 Event = "showValidation"
	EventValidationTimeoutStarted        Event = "validationTimeoutStarted"
	EventValidatedScores                Event = "validatedScores"
	EventValidationComplete             Event = "validationComplete"
	EventAutoValidationOccurred         Event = "autoValidationOccurred"
	EventHostDisconnected               Event = "hostDisconnected"
	EventHostTransferred                Event = "hostTransferred"
	EventHostLeftRoomClosing            Event = "hostLeftRoomClosing"
	EventPlayerDisconnected             Event = "playerDisconnected"
	EventPlayerReconnected              Event = "playerReconnected"
	EventPlayerLeft                     Event = "playerLeft"
	EventPlayerConnectionStatusChanged  Event = "playerConnectionStatusChanged"
	EventSessionMigrated                Event = "sessionMigrated"
	EventSessionTakenOver               Event = "sessionTakenOver"
	EventRateLimited                    Event = "rateLimited"
	EventPong                           Event = "pong"
	EventServerShutdown                 Event = "serverShutdown"
	EventWarning                        Event = "warning"
	EventError                          Event = "error"

	EventTournamentCreated        Event = "tournamentCreated"
	EventTournamentRoundStarting  Event = "tournamentRoundStarting"
	EventTournamentRoundCompleted Event = "tournamentRoundCompleted"
	EventTournamentComplete       Event = "tournamentComplete"
	EventTournamentPlayerJoined   Event = "tournamentPlayerJoined"
	EventTournamentPlayerLeft     Event = "tournamentPlayerLeft"
)

// Message is the envelope every wire frame is decoded into before dispatch.
type Message struct {
	Event     Event           `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	MessageID string          `json:"messageId,omitempty"`
}

// OutboundMessage is what gets marshalled back onto the wire; Payload here
// is a concrete value (not raw bytes) since it's always server-constructed.
type OutboundMessage struct {
	Event   Event `json:"event"`
	Payload any   `json:"payload,omitempty"`
}

// RoleType classifies a participant for broadcast fan-out and permission
// gating, mirroring the teacher's RoleType but collapsed to the three roles
// this domain actually has (no screenshare role here).
type RoleType string

const (
	RoleHost        RoleType = "host"
	RoleParticipant RoleType = "participant"
	RoleSpectator   RoleType = "spectator"
)

// HasHostPermission returns the role set allowed to perform host-only
// operations (startGame, endGame, validateWords, resetGame, closeRoom).
func HasHostPermission() set.Set[RoleType] {
	return set.New(RoleHost)
}

// HasParticipantPermission returns the role set allowed to perform
// participant-level operations (submitWord, chatMessage): hosts count as
// participants too, since a host also plays.
func HasParticipantPermission() set.Set[RoleType] {
	return set.New(RoleHost, RoleParticipant)
}

// HasAnyPermission returns the role set allowed to perform operations any
// connected role may invoke (presenceHeartbeat, ping, leaveRoom).
func HasAnyPermission() set.Set[RoleType] {
	return set.New(RoleHost, RoleParticipant, RoleSpectator)
}

// assertPayload decodes raw into T, grounded on the teacher's
// assertPayload[T] generic helper (handlers.go) — kept as a raw-bytes-only
// variant since this dispatcher's Message.Payload is always json.RawMessage,
// never a pre-built test struct.
func assertPayload[T any](raw json.RawMessage, log *zap.Logger) (T, bool) {
	var result T
	if len(raw) == 0 {
		return result, true // operations with no payload (endGame, ping, ...)
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		if log != nil {
			log.Warn("failed to unmarshal payload", zap.Error(err))
		}
		return result, false
	}
	return result, true
}

func roleOf(isHost, isSpectator bool) RoleType {
	switch {
	case isHost:
		return RoleHost
	case isSpectator:
		return RoleSpectator
	default:
		return RoleParticipant
	}
}

// Conn is the narrow per-connection surface the dispatcher needs from the
// transport layer: identity plus a way to send a reply frame directly back
// to the caller (errors, acks) without going through a room broadcast.
type Conn interface {
	ConnID() domain.ConnectionID
	ParticipantName() domain.ParticipantName
	AuthUserID() domain.AuthUserID
	Send(msg OutboundMessage)
}
