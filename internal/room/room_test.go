package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lexiclash/core/internal/domain"
)

func newTestRoom() *Room {
	return New("ABCD", "Test Room", domain.LanguageEnglish, false, false, time.Now())
}

func TestNew_StartsInWaitingState(t *testing.T) {
	r := newTestRoom()
	assert.Equal(t, domain.GameStateWaiting, r.GameState)
	assert.Empty(t, r.Participants)
}

func TestAddParticipant_InitializesPerParticipantMaps(t *testing.T) {
	r := newTestRoom()
	p := &ParticipantRecord{Name: "alice", JoinedAt: time.Now()}
	r.AddParticipant(p)

	assert.Equal(t, []domain.ParticipantName{"alice"}, r.JoinOrder)
	assert.Equal(t, 0, r.Scores["alice"])
	assert.NotNil(t, r.AchievementsAwarded["alice"])
}

func TestActiveParticipants_ExcludesDisconnectedAndSpectators(t *testing.T) {
	r := newTestRoom()
	now := time.Now()
	r.AddParticipant(&ParticipantRecord{Name: "alice", JoinedAt: now})
	r.AddParticipant(&ParticipantRecord{Name: "bob", JoinedAt: now.Add(time.Second), Disconnected: true})
	r.AddParticipant(&ParticipantRecord{Name: "carol", JoinedAt: now.Add(2 * time.Second), IsSpectator: true})

	active := r.ActiveParticipants()
	assert.Len(t, active, 1)
	assert.Equal(t, domain.ParticipantName("alice"), active[0].Name)
}

func TestActiveParticipants_OrderedByJoinedAtAscending(t *testing.T) {
	r := newTestRoom()
	now := time.Now()
	r.AddParticipant(&ParticipantRecord{Name: "later", JoinedAt: now.Add(time.Minute)})
	r.AddParticipant(&ParticipantRecord{Name: "earlier", JoinedAt: now})

	active := r.ActiveParticipants()
	assert.Equal(t, domain.ParticipantName("earlier"), active[0].Name)
	assert.Equal(t, domain.ParticipantName("later"), active[1].Name)
}

func TestNormalizeWord_LowercasesAndStripsWhitespace(t *testing.T) {
	assert.Equal(t, "cat", NormalizeWord(" Cat "))
	assert.Equal(t, "cat", NormalizeWord("C\ta\nt"))
}

func TestHasSubmitted(t *testing.T) {
	r := newTestRoom()
	r.AddParticipant(&ParticipantRecord{Name: "alice", JoinedAt: time.Now()})
	r.SubmittedWords["alice"] = []string{"cat"}

	assert.True(t, r.HasSubmitted("alice", "cat"))
	assert.False(t, r.HasSubmitted("alice", "dog"))
	assert.False(t, r.HasSubmitted("bob", "cat"))
}

func TestResetRound_PreservesParticipantsAndKeptAchievements(t *testing.T) {
	r := newTestRoom()
	r.AddParticipant(&ParticipantRecord{Name: "alice", JoinedAt: time.Now()})
	r.Scores["alice"] = 12
	r.SubmittedWords["alice"] = []string{"cat"}
	r.AchievementsAwarded["alice"] = map[string]struct{}{"first_blood": {}, "wordsmith": {}}
	r.GameState = domain.GameStateFinished
	r.Grid = [][]string{{"a"}}

	keep := map[domain.ParticipantName]map[string]struct{}{
		"alice": {"first_blood": {}},
	}
	r.ResetRound(time.Now(), keep)

	assert.Equal(t, domain.GameStateWaiting, r.GameState)
	assert.Nil(t, r.Grid)
	assert.Equal(t, 0, r.Scores["alice"])
	assert.Empty(t, r.SubmittedWords["alice"])
	assert.Contains(t, r.Participants, domain.ParticipantName("alice"))
	assert.Contains(t, r.AchievementsAwarded["alice"], "first_blood")
	assert.NotContains(t, r.AchievementsAwarded["alice"], "wordsmith")
}

func TestValidationDeadline_SetClearHas(t *testing.T) {
	r := newTestRoom()
	assert.False(t, r.HasValidationDeadline())

	r.SetValidationDeadline(time.Now().Add(time.Minute))
	assert.True(t, r.HasValidationDeadline())

	r.ClearValidationDeadline()
	assert.False(t, r.HasValidationDeadline())
}

func TestGameStartBarrier_CompletesOnceAllAcknowledge(t *testing.T) {
	fired := 0
	b := &GameStartBarrier{
		MessageID:    "msg-1",
		Expected:     map[domain.ParticipantName]struct{}{"alice": {}, "bob": {}},
		Acknowledged: map[domain.ParticipantName]struct{}{},
		Deadline:     time.Now().Add(time.Minute),
		OnComplete:   func() { fired++ },
	}

	assert.True(t, b.Acknowledge("msg-1", "alice"))
	assert.Equal(t, 0, fired, "not complete until every expected participant acks")
	assert.True(t, b.Acknowledge("msg-1", "bob"))
	assert.Equal(t, 1, fired)

	// Duplicate ack after firing never re-fires (spec §8 idempotency).
	assert.False(t, b.Acknowledge("msg-1", "bob"))
	assert.Equal(t, 1, fired)
}

func TestGameStartBarrier_Expire(t *testing.T) {
	fired := 0
	b := &GameStartBarrier{
		MessageID:    "msg-1",
		Expected:     map[domain.ParticipantName]struct{}{"alice": {}},
		Acknowledged: map[domain.ParticipantName]struct{}{},
		Deadline:     time.Now().Add(-time.Second), // already past
		OnComplete:   func() { fired++ },
	}
	assert.True(t, b.Expire(time.Now()))
	assert.Equal(t, 1, fired)
	// A second expire (or a late ack) never re-fires.
	assert.False(t, b.Expire(time.Now()))
	assert.False(t, b.Acknowledge("msg-1", "alice"))
	assert.Equal(t, 1, fired)
}
