// Package room implements the Room aggregate and the Room Store: the
// in-memory mapping from room code to room state, each entry guarded by its
// own exclusive lock so mutations on different rooms never contend.
package room

import (
	"sort"
	"sync"
	"time"

	"github.com/lexiclash/core/internal/domain"
)

// WordDetail is one entry in a participant's submission history.
type WordDetail struct {
	Word          string `json:"word"`
	Score         int    `json:"score"`
	ComboBonus    int    `json:"comboBonus"`
	ComboLevel    int    `json:"comboLevel"`
	Validated     *bool  `json:"validated"` // nil = pending/unknown
	AutoValidated bool   `json:"autoValidated"`
	IsDuplicate   bool   `json:"isDuplicate"`
	AIVerified    bool   `json:"aiVerified"`
}

// ParticipantRecord tracks one joiner's identity, role, and presence.
type ParticipantRecord struct {
	Name              domain.ParticipantName
	Avatar            string
	IsHost            bool
	ConnectionID      domain.ConnectionID // empty while disconnected
	AuthUserID        domain.AuthUserID
	GuestTokenHash    string
	JoinedAt          time.Time
	Disconnected      bool
	DisconnectedAt    time.Time
	PresenceStatus    domain.PresenceStatus
	LastHeartbeatAt   time.Time
	MissedHeartbeats  int
	IsSpectator       bool
}

// GameStartBarrier is the acknowledgment gate between a host's startGame
// broadcast and the first tick.
type GameStartBarrier struct {
	MessageID    string
	Expected     map[domain.ParticipantName]struct{}
	Acknowledged map[domain.ParticipantName]struct{}
	Deadline     time.Time
	OnComplete   func()
	fired        bool
}

// Acknowledge records an ack for messageID. Returns true if this ack caused
// the barrier to complete (idempotent: a duplicate ack never re-fires).
func (b *GameStartBarrier) Acknowledge(messageID string, who domain.ParticipantName) bool {
	if b == nil || b.fired || messageID != b.MessageID {
		return false
	}
	if _, expected := b.Expected[who]; !expected {
		return false
	}
	b.Acknowledged[who] = struct{}{}
	if len(b.Acknowledged) >= len(b.Expected) {
		b.fired = true
		if b.OnComplete != nil {
			b.OnComplete()
		}
		return true
	}
	return false
}

// Expire fires the barrier's completion callback if the deadline passed and
// it has not already fired (e.g. via full acknowledgment).
func (b *GameStartBarrier) Expire(now time.Time) bool {
	if b == nil || b.fired {
		return false
	}
	if now.Before(b.Deadline) {
		return false
	}
	b.fired = true
	if b.OnComplete != nil {
		b.OnComplete()
	}
	return true
}

// Timers groups the cancellation functions for a room's scheduled tasks so
// room destruction can cancel all of them in one place.
type Timers struct {
	HostReconnect   func() // cancels the host grace-period timer, if any
	PlayerReconnect map[domain.ParticipantName]func()
	ValidationDeadline func()
	RoundTick       func()
}

// Room is the aggregate described by spec §3. Every field access from
// outside the owning Store must happen while holding Mu.
type Room struct {
	Code          domain.RoomCode
	Name          string
	Language      domain.Language
	IsRanked      bool
	AllowLateJoin bool

	GameState domain.GameState

	Grid           [][]string
	PositionsIndex map[string][][2]int // letter -> cell coordinates, rebuilt on grid change

	Participants map[domain.ParticipantName]*ParticipantRecord
	JoinOrder    []domain.ParticipantName

	Host             domain.ParticipantName
	HostConnectionID domain.ConnectionID // empty when host disconnected within grace period

	Scores         map[domain.ParticipantName]int
	SubmittedWords map[domain.ParticipantName][]string // normalized, append-only, deduplicated
	WordDetails    map[domain.ParticipantName][]WordDetail
	Combo          map[domain.ParticipantName]int // 0..10

	AchievementsAwarded map[domain.ParticipantName]map[string]struct{}

	StartedAt        time.Time
	EndsAt           time.Time
	Duration         int // seconds
	RemainingSeconds int
	MinWordLength    int

	TournamentID       string
	ValidationDeadline time.Time
	hasValidationDeadline bool

	StartBarrier *GameStartBarrier
	Timers       Timers

	LastActivityAt time.Time

	// Mu is the per-room exclusive mutation primitive (spec §4.3). All
	// handler code acquires it before touching any field above and releases
	// it only after staging any external call (spec §5's suspension-point
	// discipline) — handlers must drop Mu before suspending on I/O.
	Mu sync.Mutex
}

// New creates an empty waiting-state room with no participants; the caller
// adds the host and sets Host.
func New(code domain.RoomCode, name string, lang domain.Language, ranked, allowLateJoin bool, now time.Time) *Room {
	return &Room{
		Code:                code,
		Name:                name,
		Language:            lang,
		IsRanked:            ranked,
		AllowLateJoin:       allowLateJoin,
		GameState:           domain.GameStateWaiting,
		PositionsIndex:      map[string][][2]int{},
		Participants:        map[domain.ParticipantName]*ParticipantRecord{},
		Scores:              map[domain.ParticipantName]int{},
		SubmittedWords:      map[domain.ParticipantName][]string{},
		WordDetails:         map[domain.ParticipantName][]WordDetail{},
		Combo:               map[domain.ParticipantName]int{},
		AchievementsAwarded: map[domain.ParticipantName]map[string]struct{}{},
		Timers:              Timers{PlayerReconnect: map[domain.ParticipantName]func(){}},
		LastActivityAt:      now,
	}
}

// AddParticipant registers a brand-new participant and appends them to
// JoinOrder. Callers must already hold Mu.
func (r *Room) AddParticipant(p *ParticipantRecord) {
	r.Participants[p.Name] = p
	r.JoinOrder = append(r.JoinOrder, p.Name)
	r.Scores[p.Name] = 0
	r.SubmittedWords[p.Name] = nil
	r.WordDetails[p.Name] = nil
	r.Combo[p.Name] = 0
	r.AchievementsAwarded[p.Name] = map[string]struct{}{}
}

// ActiveParticipants returns non-disconnected, non-spectator participants
// ordered by JoinedAt ascending (earliest first) — the order used for host
// succession.
func (r *Room) ActiveParticipants() []*ParticipantRecord {
	out := make([]*ParticipantRecord, 0, len(r.Participants))
	for _, name := range r.JoinOrder {
		p := r.Participants[name]
		if p == nil || p.Disconnected || p.IsSpectator {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}

// NormalizeWord lowercases and trims a candidate for dedup/board/dictionary
// comparisons. Case-insensitive equality per cell (spec §4.5) is implemented
// in terms of this normalization.
func NormalizeWord(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		out = append(out, toLowerRune(r))
	}
	return string(out)
}

func toLowerRune(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r - 'A' + 'a'
	}
	return r
}

// HasSubmitted reports whether participant already submitted the normalized
// candidate.
func (r *Room) HasSubmitted(p domain.ParticipantName, normalized string) bool {
	for _, w := range r.SubmittedWords[p] {
		if w == normalized {
			return true
		}
	}
	return false
}

// ResetRound returns the room to waiting state, clearing all per-round
// fields while preserving participants and timing-based achievements
// (invariant: host unchanged, gameState = waiting). Callers must already
// hold Mu and must separately filter AchievementsAwarded for timing-based
// keys (see scoring.TimingBasedKeys) before calling if those must survive.
func (r *Room) ResetRound(now time.Time, keepAchievements map[domain.ParticipantName]map[string]struct{}) {
	r.GameState = domain.GameStateWaiting
	r.Grid = nil
	r.PositionsIndex = map[string][][2]int{}
	for name := range r.Participants {
		r.Scores[name] = 0
		r.SubmittedWords[name] = nil
		r.WordDetails[name] = nil
		r.Combo[name] = 0
		if keepAchievements != nil {
			r.AchievementsAwarded[name] = keepAchievements[name]
		} else {
			r.AchievementsAwarded[name] = map[string]struct{}{}
		}
	}
	r.StartedAt = time.Time{}
	r.EndsAt = time.Time{}
	r.Duration = 0
	r.RemainingSeconds = 0
	r.StartBarrier = nil
	r.hasValidationDeadline = false
	r.LastActivityAt = now
}

// SetValidationDeadline records an absolute validation deadline.
func (r *Room) SetValidationDeadline(t time.Time) {
	r.ValidationDeadline = t
	r.hasValidationDeadline = true
}

// ClearValidationDeadline removes any pending validation deadline.
func (r *Room) ClearValidationDeadline() {
	r.hasValidationDeadline = false
}

// HasValidationDeadline reports whether a validation deadline is pending.
func (r *Room) HasValidationDeadline() bool { return r.hasValidationDeadline }
