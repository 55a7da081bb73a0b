package scoring

import "time"

// Achievement keys. Exact thresholds are an explicit open question in the
// distilled spec ("precise achievement thresholds"); the constants below
// are the recorded placeholder defaults (see DESIGN.md) — tunable without
// changing any caller's contract.
const (
	AchievementFirstWord    = "first_word"
	AchievementLongWord     = "long_word"      // word length >= longWordThreshold
	AchievementSpeedDemon   = "speed_demon"    // valid word within speedThreshold of round start
	AchievementFirstBlood   = "first_blood"    // first valid word of the round, room-wide
	AchievementQuickThinker = "quick_thinker"  // valid word within quickThinkerWindow of round start
	AchievementWordsmith    = "wordsmith"      // overall word count >= wordsmithThreshold
	AchievementMarathoner   = "longest_word"   // holds the round's single longest word
	AchievementPerfectRun   = "perfect_run"    // every submission in the round validated true
)

const (
	longWordThreshold   = 7
	speedThreshold      = 10 * time.Second
	quickThinkerWindow  = 5 * time.Second
	wordsmithThreshold  = 15
)

// TimingBasedKeys is the subset of achievement keys that survive a round
// reset (spec §4.7: "Timing-based achievements ... are preserved across a
// round reset; all others are recomputed").
var TimingBasedKeys = map[string]bool{
	AchievementFirstBlood:   true,
	AchievementQuickThinker: true,
	AchievementSpeedDemon:   true,
}

// SubmissionContext is the minimal information live-achievement evaluation
// needs about one accepted submission, kept separate from room.Room so this
// package stays free of any non-pure dependency.
type SubmissionContext struct {
	Word              string
	IsFirstForPlayer  bool
	IsFirstInRoom     bool
	ElapsedSinceStart time.Duration
	AlreadyAwarded    map[string]struct{}
}

// LiveAchievements evaluates the achievements checked on each Valid
// submission (spec §4.7). Returns newly awarded keys only (idempotent:
// already-awarded keys are never returned again).
func LiveAchievements(ctx SubmissionContext) []string {
	var awarded []string
	award := func(key string) {
		if _, ok := ctx.AlreadyAwarded[key]; ok {
			return
		}
		awarded = append(awarded, key)
	}

	if ctx.IsFirstForPlayer {
		award(AchievementFirstWord)
	}
	if len([]rune(ctx.Word)) >= longWordThreshold {
		award(AchievementLongWord)
	}
	if ctx.IsFirstInRoom {
		award(AchievementFirstBlood)
	}
	if ctx.ElapsedSinceStart <= quickThinkerWindow {
		award(AchievementQuickThinker)
	}
	if ctx.ElapsedSinceStart <= speedThreshold {
		award(AchievementSpeedDemon)
	}
	return awarded
}

// FinalRoomContext is the minimal finished-room information final-
// achievement evaluation needs.
type FinalRoomContext struct {
	TotalWords      int
	LongestWord     string
	IsLongestInRoom bool
	AllValidated    bool
	AlreadyAwarded  map[string]struct{}
}

// FinalAchievements evaluates achievements computed from the finished room
// aggregate (spec §4.7): overall word count, longest word, perfect-
// validation runs. Category coverage is left to the Dictionary Oracle's
// category metadata, which is out of the core's scope (spec §1); this
// function evaluates the subset computable from the core's own data.
func FinalAchievements(ctx FinalRoomContext) []string {
	var awarded []string
	award := func(key string) {
		if _, ok := ctx.AlreadyAwarded[key]; ok {
			return
		}
		awarded = append(awarded, key)
	}

	if ctx.TotalWords >= wordsmithThreshold {
		award(AchievementWordsmith)
	}
	if ctx.IsLongestInRoom && ctx.LongestWord != "" {
		award(AchievementMarathoner)
	}
	if ctx.AllValidated && ctx.TotalWords > 0 {
		award(AchievementPerfectRun)
	}
	return awarded
}
