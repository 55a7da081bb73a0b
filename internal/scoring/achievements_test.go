package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLiveAchievements_FirstWordAndFirstBlood(t *testing.T) {
	awarded := LiveAchievements(SubmissionContext{
		Word: "cat", IsFirstForPlayer: true, IsFirstInRoom: true,
		ElapsedSinceStart: 1 * time.Second,
		AlreadyAwarded:    map[string]struct{}{},
	})
	assert.Contains(t, awarded, AchievementFirstWord)
	assert.Contains(t, awarded, AchievementFirstBlood)
	assert.Contains(t, awarded, AchievementQuickThinker)
	assert.Contains(t, awarded, AchievementSpeedDemon)
}

func TestLiveAchievements_LongWord(t *testing.T) {
	awarded := LiveAchievements(SubmissionContext{
		Word:              "marathon", // 8 runes >= longWordThreshold(7)
		ElapsedSinceStart: time.Minute,
		AlreadyAwarded:    map[string]struct{}{},
	})
	assert.Contains(t, awarded, AchievementLongWord)
	assert.NotContains(t, awarded, AchievementSpeedDemon)
}

func TestLiveAchievements_IdempotentAlreadyAwarded(t *testing.T) {
	already := map[string]struct{}{AchievementFirstWord: {}}
	awarded := LiveAchievements(SubmissionContext{
		Word: "cat", IsFirstForPlayer: true,
		ElapsedSinceStart: time.Minute,
		AlreadyAwarded:    already,
	})
	assert.NotContains(t, awarded, AchievementFirstWord)
}

func TestLiveAchievements_SlowSubmissionGetsNoTimingAchievements(t *testing.T) {
	awarded := LiveAchievements(SubmissionContext{
		Word:              "dog",
		ElapsedSinceStart: time.Minute,
		AlreadyAwarded:    map[string]struct{}{},
	})
	assert.NotContains(t, awarded, AchievementQuickThinker)
	assert.NotContains(t, awarded, AchievementSpeedDemon)
	assert.NotContains(t, awarded, AchievementFirstBlood)
}

func TestFinalAchievements_Wordsmith(t *testing.T) {
	awarded := FinalAchievements(FinalRoomContext{
		TotalWords:     15,
		AlreadyAwarded: map[string]struct{}{},
	})
	assert.Contains(t, awarded, AchievementWordsmith)
}

func TestFinalAchievements_MarathonerRequiresLongestInRoom(t *testing.T) {
	awarded := FinalAchievements(FinalRoomContext{
		TotalWords:      1,
		LongestWord:     "antidisestablishment",
		IsLongestInRoom: true,
		AlreadyAwarded:  map[string]struct{}{},
	})
	assert.Contains(t, awarded, AchievementMarathoner)

	notLongest := FinalAchievements(FinalRoomContext{
		TotalWords:      1,
		LongestWord:     "antidisestablishment",
		IsLongestInRoom: false,
		AlreadyAwarded:  map[string]struct{}{},
	})
	assert.NotContains(t, notLongest, AchievementMarathoner)
}

func TestFinalAchievements_PerfectRunRequiresWordsSubmitted(t *testing.T) {
	awarded := FinalAchievements(FinalRoomContext{
		TotalWords:     3,
		AllValidated:   true,
		AlreadyAwarded: map[string]struct{}{},
	})
	assert.Contains(t, awarded, AchievementPerfectRun)

	none := FinalAchievements(FinalRoomContext{
		TotalWords:     0,
		AllValidated:   true,
		AlreadyAwarded: map[string]struct{}{},
	})
	assert.NotContains(t, none, AchievementPerfectRun)
}

func TestTimingBasedKeys_SurviveReset(t *testing.T) {
	assert.True(t, TimingBasedKeys[AchievementFirstBlood])
	assert.True(t, TimingBasedKeys[AchievementQuickThinker])
	assert.True(t, TimingBasedKeys[AchievementSpeedDemon])
	assert.False(t, TimingBasedKeys[AchievementWordsmith])
}
