package roundcoordinator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lexiclash/core/internal/boardvalidator"
	"github.com/lexiclash/core/internal/collaborators"
	"github.com/lexiclash/core/internal/dictionary"
	"github.com/lexiclash/core/internal/domain"
	"github.com/lexiclash/core/internal/room"
	"github.com/lexiclash/core/internal/scoring"
)

// Broadcaster is the narrow slice of the Dispatcher's broadcast surface the
// coordinator needs. Kept as a small interface here (rather than importing
// the dispatcher package) to avoid an import cycle: the dispatcher depends
// on the coordinator, not the reverse.
type Broadcaster interface {
	BroadcastToRoom(code domain.RoomCode, event string, payload any)
	SendToParticipant(code domain.RoomCode, name domain.ParticipantName, event string, payload any)
}

// Persister is the narrow persistence surface the coordinator needs.
type Persister interface {
	SaveRoom(ctx context.Context, code string, snapshot any) error
}

// Coordinator owns the start barrier, the round timer, and end-of-round
// processing for every room. One Coordinator instance serves the whole
// process; per-room state lives in the room.Room aggregate itself (the
// *Timer and *GameStartBarrier), never here.
type Coordinator struct {
	broadcast Broadcaster
	persist   Persister
	oracle    dictionary.Oracle
	ai        *collaborators.AIOracleClient
	vote      *collaborators.CommunityVoteHook
	analytics *collaborators.AnalyticsSink
	validator *boardvalidator.Pool
	log       *zap.Logger

	startBarrierDeadline time.Duration
	validationWindow     time.Duration
	aiCallBudget         time.Duration
}

type Config struct {
	StartBarrierDeadline time.Duration
	ValidationWindow     time.Duration
	AICallBudget         time.Duration
}

func New(cfg Config, broadcast Broadcaster, persist Persister, oracle dictionary.Oracle,
	ai *collaborators.AIOracleClient, vote *collaborators.CommunityVoteHook, analytics *collaborators.AnalyticsSink,
	validator *boardvalidator.Pool, log *zap.Logger) *Coordinator {
	return &Coordinator{
		broadcast: broadcast, persist: persist, oracle: oracle, ai: ai, vote: vote, analytics: analytics,
		validator: validator, log: log,
		startBarrierDeadline: cfg.StartBarrierDeadline,
		validationWindow:     cfg.ValidationWindow,
		aiCallBudget:         cfg.AICallBudget,
	}
}

// StartGame begins the start barrier for a round just set up by the host
// (spec §4.6 "Start barrier"). r.Mu must be held by the caller; the barrier
// and its deadline timer are armed here, and the round timer is started
// either when all expected participants ack or when the deadline elapses,
// whichever is first.
func (c *Coordinator) StartGame(r *room.Room, messageID string, expected map[domain.ParticipantName]struct{}, now time.Time) {
	ack := make(map[domain.ParticipantName]struct{}, len(expected))
	barrier := &room.GameStartBarrier{
		MessageID:    messageID,
		Expected:     expected,
		Acknowledged: ack,
		Deadline:     now.Add(c.startBarrierDeadline),
	}
	barrier.OnComplete = func() { c.beginTick(r) }
	r.StartBarrier = barrier

	go c.watchBarrierDeadline(r, barrier)
}

func (c *Coordinator) watchBarrierDeadline(r *room.Room, barrier *room.GameStartBarrier) {
	timer := time.NewTimer(time.Until(barrier.Deadline))
	defer timer.Stop()
	<-timer.C

	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.StartBarrier != barrier {
		return // round already reset/ended/restarted
	}
	barrier.Expire(time.Now())
}

// Ack records a startGameAck. Idempotent: a duplicate ack for the same
// messageId never advances the barrier twice (spec §8).
func (c *Coordinator) Ack(r *room.Room, messageID string, who domain.ParticipantName) {
	if r.StartBarrier == nil {
		return
	}
	r.StartBarrier.Acknowledge(messageID, who)
}

// beginTick starts the 1Hz round timer. Called with r.Mu held (from
// GameStartBarrier.OnComplete, itself invoked under r.Mu by Ack or by the
// deadline watcher).
func (c *Coordinator) beginTick(r *room.Room) {
	timer := NewTimer(
		func(secondsLeft int) {
			r.Mu.Lock()
			r.RemainingSeconds = secondsLeft
			code := r.Code
			r.Mu.Unlock()
			c.broadcast.BroadcastToRoom(code, "timeUpdate", map[string]int{"remainingSeconds": secondsLeft})
		},
		func() { c.onTimerExpired(r) },
	)
	r.Timers.RoundTick = timer.Stop
	timer.Start(r.Duration)
}

func (c *Coordinator) onTimerExpired(r *room.Room) {
	r.Mu.Lock()
	r.RemainingSeconds = 0
	r.GameState = domain.GameStateFinished
	code := r.Code
	r.Mu.Unlock()

	c.broadcast.BroadcastToRoom(code, "timeUpdate", map[string]int{"remainingSeconds": 0})
	c.broadcast.BroadcastToRoom(code, "endGame", nil)
	c.RunEndOfRound(context.Background(), r)
}

// EndRound is invoked by the host's endGame operation (manual end). Cancels
// the tick and validation deadline and runs the same end-of-round pass as
// an automatic expiry.
func (c *Coordinator) EndRound(ctx context.Context, r *room.Room) {
	r.Mu.Lock()
	if r.Timers.RoundTick != nil {
		r.Timers.RoundTick()
		r.Timers.RoundTick = nil
	}
	r.ClearValidationDeadline()
	r.GameState = domain.GameStateFinished
	code := r.Code
	r.Mu.Unlock()

	c.broadcast.BroadcastToRoom(code, "endGame", nil)
	c.RunEndOfRound(ctx, r)
}
