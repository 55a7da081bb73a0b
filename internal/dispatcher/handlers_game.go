package dispatcher

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lexiclash/core/internal/boardvalidator"
	"github.com/lexiclash/core/internal/dictionary"
	"github.com/lexiclash/core/internal/domain"
	"github.com/lexiclash/core/internal/room"
	"github.com/lexiclash/core/internal/scoring"
)

// profanityBlocklist is a small placeholder list; spec §9 flags "the full
// content of the profanity blocklist" as an open question to confirm
// against the reference implementation rather than guess at.
var profanityBlocklist = map[string]bool{
	"shit": true, "fuck": true, "bitch": true, "asshole": true, "cunt": true,
}

// StartRoundPayload is the startGame operation's payload (spec §4.1).
type StartRoundPayload struct {
	Grid          [][]string `json:"grid"`
	Seconds       int        `json:"seconds"`
	MinWordLength int        `json:"minWordLength"`
}

// handleStartGame implements startRound(grid, seconds, minWordLength): host
// only, arms the start barrier (spec §4.6).
func (d *Dispatcher) handleStartGame(ctx context.Context, conn Conn, r *room.Room, msg Message) {
	p, ok := assertPayload[StartRoundPayload](msg.Payload, d.log)
	if !ok || len(p.Grid) == 0 {
		d.sendError(conn, "invalid startGame payload")
		return
	}
	now := time.Now()
	messageID := uuid.NewString()

	r.Mu.Lock()
	r.Grid = p.Grid
	r.PositionsIndex = boardvalidator.BuildIndex(p.Grid)
	r.Duration = p.Seconds
	r.RemainingSeconds = p.Seconds
	r.MinWordLength = p.MinWordLength
	r.GameState = domain.GameStateInProgress
	r.StartedAt = now
	r.EndsAt = now.Add(time.Duration(p.Seconds) * time.Second)
	r.LastActivityAt = now

	expected := make(map[domain.ParticipantName]struct{}, len(r.Participants))
	for _, p := range r.ActiveParticipants() {
		expected[p.Name] = struct{}{}
	}
	code := r.Code
	lang := r.Language
	d.coordinator.StartGame(r, messageID, expected, now)
	r.Mu.Unlock()

	d.broadcast.BroadcastToRoom(code, string(EventStartGame), map[string]any{
		"grid": p.Grid, "seconds": p.Seconds, "language": lang,
		"minWordLength": p.MinWordLength, "messageId": messageID,
	})
}

// StartGameAckPayload is the startGameAck operation's payload.
type StartGameAckPayload struct {
	MessageID string `json:"messageId"`
}

// handleStartGameAck records one client's acknowledgment of the start
// barrier (spec §4.6, idempotent per spec §8).
func (d *Dispatcher) handleStartGameAck(ctx context.Context, conn Conn, r *room.Room, msg Message) {
	p, ok := assertPayload[StartGameAckPayload](msg.Payload, d.log)
	if !ok {
		return
	}
	entry, found := d.registry.ByConn(conn.ConnID())
	if !found {
		return
	}
	r.Mu.Lock()
	d.coordinator.Ack(r, p.MessageID, entry.Participant)
	r.Mu.Unlock()
}

// SubmitWordPayload is the submitWord operation's payload (spec §4.5).
type SubmitWordPayload struct {
	Candidate  string `json:"candidate"`
	ComboLevel int    `json:"comboLevel"`
}

// handleSubmitWord implements the submission pipeline (spec §4.5): ordered
// preconditions, each failure emitting a named outcome to the submitter
// only; board validation is offloaded to the worker pool so the event path
// stays responsive (suspension point per spec §5), the room lock dropped
// across that call and re-acquired to commit.
func (d *Dispatcher) handleSubmitWord(ctx context.Context, conn Conn, r *room.Room, msg Message) {
	p, ok := assertPayload[SubmitWordPayload](msg.Payload, d.log)
	if !ok {
		return
	}
	entry, found := d.registry.ByConn(conn.ConnID())
	if !found {
		return
	}
	participant := entry.Participant
	comboLevel := scoring.ClampCombo(p.ComboLevel)

	r.Mu.Lock()
	if r.GameState != domain.GameStateInProgress {
		r.Mu.Unlock()
		conn.Send(OutboundMessage{Event: EventError, Payload: map[string]string{"error": "GameNotInProgress"}})
		return
	}
	candidate := strings.TrimSpace(p.Candidate)
	normalized := room.NormalizeWord(candidate)
	minLen := r.MinWordLength
	grid := r.Grid
	idx := r.PositionsIndex
	lang := r.Language
	startedAt := r.StartedAt
	roundToken := r.StartedAt
	code := r.Code
	combo := r.Combo[participant]
	isFirstForPlayer := len(r.WordDetails[participant]) == 0
	isFirstInRoom := d.noValidWordsYetLocked(r)
	r.Mu.Unlock()

	if len([]rune(normalized)) < minLen || len([]rune(normalized)) > 50 || normalized == "" {
		conn.Send(OutboundMessage{Event: EventWordTooShort, Payload: map[string]string{"word": candidate}})
		return
	}
	if profanityBlocklist[normalized] {
		conn.Send(OutboundMessage{Event: EventWordRejected, Payload: map[string]string{"word": candidate, "reason": "inappropriate"}})
		return
	}

	r.Mu.Lock()
	if r.HasSubmitted(participant, normalized) {
		r.Mu.Unlock()
		conn.Send(OutboundMessage{Event: EventWordAlreadyFound, Payload: map[string]string{"word": candidate}})
		return
	}
	r.Mu.Unlock()

	// Board validation is offloaded to the worker pool (spec §4.5 item 5);
	// the room lock is not held across the submission.
	resultCh, err := d.validator.Submit(ctx, normalized, grid, boardvalidator.PositionsIndex(idx))
	onBoard := false
	if err == nil {
		select {
		case onBoard = <-resultCh:
		case <-ctx.Done():
		}
	}

	r.Mu.Lock()
	if r.StartedAt != roundToken || r.GameState != domain.GameStateInProgress {
		r.Mu.Unlock()
		return // round ended/reset while validation was off-lock
	}
	if !onBoard {
		r.Combo[participant] = 0
		r.Mu.Unlock()
		conn.Send(OutboundMessage{Event: EventWordNotOnBoard, Payload: map[string]string{"word": candidate}})
		return
	}
	r.SubmittedWords[participant] = append(r.SubmittedWords[participant], normalized)
	r.LastActivityAt = time.Now()
	r.Mu.Unlock()

	result := d.oracle.IsValidWord(normalized, lang)
	if result == dictionary.Invalid || result == dictionary.Unknown {
		r.Mu.Lock()
		participantCount := len(r.Participants)
		r.Mu.Unlock()
		if participantCount == 1 && d.ai != nil {
			d.submitSoloHostAI(ctx, conn, r, participant, normalized, comboLevel, roundToken)
			return
		}
		d.recordUnvalidated(conn, r, participant, normalized, comboLevel)
		return
	}

	d.recordValid(conn, r, participant, normalized, comboLevel, combo, isFirstForPlayer, isFirstInRoom, startedAt, false)
}

func (d *Dispatcher) noValidWordsYetLocked(r *room.Room) bool {
	for _, details := range r.WordDetails {
		for _, det := range details {
			if det.Validated != nil && *det.Validated {
				return false
			}
		}
	}
	return true
}

// submitSoloHostAI implements the solo-host shortcut (spec §4.5): with a
// single participant, a non-dictionary word gets one AI oracle call before
// falling back to unvalidated. The room lock is dropped for the call.
func (d *Dispatcher) submitSoloHostAI(ctx context.Context, conn Conn, r *room.Room, participant domain.ParticipantName, normalized string, comboLevel int, roundToken time.Time) {
	conn.Send(OutboundMessage{Event: EventWordValidatingWithAI, Payload: map[string]string{"word": normalized}})

	r.Mu.Lock()
	lang := r.Language
	r.Mu.Unlock()

	verdict, err := d.ai.ValidateWord(ctx, normalized, lang)

	r.Mu.Lock()
	if r.StartedAt != roundToken {
		r.Mu.Unlock()
		return
	}
	if err != nil || !verdict.IsValid {
		r.WordDetails[participant] = append(r.WordDetails[participant], room.WordDetail{
			Word: normalized, Validated: domain.BoolPtr(false), Score: 0, ComboBonus: scoring.ComboBonus(comboLevel), ComboLevel: comboLevel,
		})
		r.Combo[participant] = 0
		code := r.Code
		r.Mu.Unlock()
		conn.Send(OutboundMessage{Event: EventWordRejected, Payload: map[string]string{"word": normalized}})
		d.throttledLeaderboard(code, r)
		return
	}

	_, bonus, total := scoring.WordScore(normalized, comboLevel)
	r.WordDetails[participant] = append(r.WordDetails[participant], room.WordDetail{
		Word: normalized, Score: total, ComboBonus: bonus, ComboLevel: comboLevel,
		Validated: domain.BoolPtr(true), AutoValidated: true, AIVerified: true,
	})
	r.Scores[participant] += total
	r.Combo[participant] = comboLevel
	code := r.Code
	r.Mu.Unlock()

	conn.Send(OutboundMessage{Event: EventWordAccepted, Payload: map[string]any{
		"word": normalized, "score": total, "baseScore": total - bonus, "comboBonus": bonus, "comboLevel": comboLevel, "aiVerified": true,
	}})
	d.throttledLeaderboard(code, r)
}

// recordUnvalidated implements the multi-player non-dictionary outcome
// (spec §4.5): preserve comboBonus/comboLevel for a later host approval,
// but do not run live achievements.
func (d *Dispatcher) recordUnvalidated(conn Conn, r *room.Room, participant domain.ParticipantName, normalized string, comboLevel int) {
	_, bonus, _ := scoring.WordScore(normalized, comboLevel)
	r.Mu.Lock()
	r.WordDetails[participant] = append(r.WordDetails[participant], room.WordDetail{
		Word: normalized, Score: 0, ComboBonus: bonus, ComboLevel: comboLevel, Validated: nil,
	})
	r.Combo[participant] = 0
	code := r.Code
	r.Mu.Unlock()

	conn.Send(OutboundMessage{Event: EventWordNeedsValidation, Payload: map[string]string{"word": normalized}})
	d.throttledLeaderboard(code, r)
}

// recordValid implements the in-dictionary accepted outcome (spec §4.5).
func (d *Dispatcher) recordValid(conn Conn, r *room.Room, participant domain.ParticipantName, normalized string, comboLevel, previousCombo int, isFirstForPlayer, isFirstInRoom bool, startedAt time.Time, aiVerified bool) {
	_, bonus, total := scoring.WordScore(normalized, comboLevel)

	r.Mu.Lock()
	r.WordDetails[participant] = append(r.WordDetails[participant], room.WordDetail{
		Word: normalized, Score: total, ComboBonus: bonus, ComboLevel: comboLevel,
		Validated: domain.BoolPtr(true), AutoValidated: true, AIVerified: aiVerified,
	})
	r.Scores[participant] += total
	r.Combo[participant] = comboLevel
	already := r.AchievementsAwarded[participant]
	code := r.Code
	r.Mu.Unlock()

	awarded := scoring.LiveAchievements(scoring.SubmissionContext{
		Word: normalized, IsFirstForPlayer: isFirstForPlayer, IsFirstInRoom: isFirstInRoom,
		ElapsedSinceStart: time.Since(startedAt), AlreadyAwarded: already,
	})

	conn.Send(OutboundMessage{Event: EventWordAccepted, Payload: map[string]any{
		"word": normalized, "score": total, "baseScore": total - bonus, "comboBonus": bonus, "comboLevel": comboLevel, "autoValidated": true,
	}})

	if len(awarded) > 0 {
		r.Mu.Lock()
		for _, key := range awarded {
			r.AchievementsAwarded[participant][key] = struct{}{}
		}
		r.Mu.Unlock()
		for _, key := range awarded {
			d.broadcast.SendToParticipant(code, participant, string(EventLiveAchievementUnlocked), map[string]string{"achievement": key})
		}
	}

	d.throttledLeaderboard(code, r)
}

// throttledLeaderboard implements spec §4.5's "throttled leaderboard
// update (coalesce within a small window; only the latest state is emitted
// per window per room)". It does not broadcast itself: it hands the room to
// scheduleLeaderboardBroadcast, which arms at most one trailing-edge
// broadcast per room per window and sends the scores current when it fires.
func (d *Dispatcher) throttledLeaderboard(code domain.RoomCode, r *room.Room) {
	d.scheduleLeaderboardBroadcast(code, r)
}

// handleEndGame implements endRound(): host only, triggers spec §4.6
// "End of round" via the Round Coordinator.
func (d *Dispatcher) handleEndGame(ctx context.Context, conn Conn, r *room.Room, msg Message) {
	d.coordinator.EndRound(ctx, r)
}

// ValidateWordsPayload is the validateWords operation's payload (spec
// §4.6's "host-adjudicated fallback path").
type ValidateWordsPayload struct {
	Validations map[string]bool `json:"validations"`
}

// handleValidateWords implements validateWords(validations[]): host only,
// post-round, must run within the validation deadline.
func (d *Dispatcher) handleValidateWords(ctx context.Context, conn Conn, r *room.Room, msg Message) {
	p, ok := assertPayload[ValidateWordsPayload](msg.Payload, d.log)
	if !ok {
		return
	}
	r.Mu.Lock()
	hasDeadline := r.HasValidationDeadline()
	expired := hasDeadline && time.Now().After(r.ValidationDeadline)
	r.Mu.Unlock()
	if expired {
		d.sendError(conn, "validation deadline elapsed")
		return
	}
	d.coordinator.HostValidateWords(ctx, r, p.Validations)
}

// handleResetGame implements resetRoom(): host only, returns to waiting
// with preserved participants and timing-based achievements (spec §4.7).
func (d *Dispatcher) handleResetGame(ctx context.Context, conn Conn, r *room.Room, msg Message) {
	r.Mu.Lock()
	if r.Timers.RoundTick != nil {
		r.Timers.RoundTick()
		r.Timers.RoundTick = nil
	}
	keep := map[domain.ParticipantName]map[string]struct{}{}
	for name, awarded := range r.AchievementsAwarded {
		kept := map[string]struct{}{}
		for key := range awarded {
			if scoring.TimingBasedKeys[key] {
				kept[key] = struct{}{}
			}
		}
		keep[name] = kept
	}
	r.ResetRound(time.Now(), keep)
	code := r.Code
	r.Mu.Unlock()

	d.broadcast.BroadcastToRoom(code, string(EventResetGame), nil)
}
