package roundcoordinator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lexiclash/core/internal/collaborators"
	"github.com/lexiclash/core/internal/domain"
	"github.com/lexiclash/core/internal/room"
	"github.com/lexiclash/core/internal/scoring"
)

// ValidatedScore is one row of the validatedScores broadcast payload.
type ValidatedScore struct {
	Participant domain.ParticipantName `json:"participant"`
	Score       int                    `json:"score"`
	Title       string                 `json:"title,omitempty"`
}

// RunEndOfRound implements spec §4.6 "End of round": collect all unique
// candidates, partition into in-dictionary/non-dictionary, optionally
// submit the non-dictionary subset to the AI oracle under a per-room
// budget, collapse duplicates across players, compute final scores from
// preserved per-word combo data, update Validated flags, run final
// achievements, compute titles, and broadcast validatedScores.
//
// Per spec §5's suspension-point discipline, the room lock is not held
// across the AI oracle call: state is staged, the lock is dropped, the
// external call is made, and the lock is re-acquired to commit — re-
// checking that the round hasn't been reset out from under us.
func (c *Coordinator) RunEndOfRound(ctx context.Context, r *room.Room) {
	r.Mu.Lock()
	code := r.Code
	lang := r.Language
	roundToken := r.StartedAt // used to detect a reset happening mid-flight

	uniqueNonDict := map[string]bool{}
	for _, details := range r.WordDetails {
		for _, d := range details {
			if d.Validated == nil {
				uniqueNonDict[d.Word] = true
			}
		}
	}
	r.Mu.Unlock()

	// Submit the unique non-dictionary words to the AI oracle, bounded by a
	// per-room budget. This happens outside the room lock.
	aiVerdicts := map[string]collaborators.AIVerdict{}
	if c.ai != nil && len(uniqueNonDict) > 0 {
		words := make([]string, 0, len(uniqueNonDict))
		for w := range uniqueNonDict {
			words = append(words, w)
		}
		aiCtx, cancel := context.WithTimeout(ctx, c.aiCallBudget)
		verdicts, err := c.ai.ValidateWords(aiCtx, words, lang)
		cancel()
		if err == nil {
			aiVerdicts = verdicts
		} else if c.log != nil {
			c.log.Warn("ai oracle unavailable for end-of-round validation", zap.String("room", string(code)), zap.Error(err))
		}
	}

	r.Mu.Lock()
	if r.StartedAt != roundToken {
		// Round was reset/restarted while we were off-lock; abandon this pass.
		r.Mu.Unlock()
		return
	}
	c.commitEndOfRound(r, aiVerdicts)
	snapshot := snapshotForPersist(r)
	scores := c.finalScoresLocked(r)
	r.Mu.Unlock()

	_ = c.persist.SaveRoom(ctx, string(code), snapshot)
	c.broadcast.BroadcastToRoom(code, "validatedScores", scores)

	if c.analytics != nil {
		go c.reportAnalytics(r, code)
	}
}

func (c *Coordinator) commitEndOfRound(r *room.Room, aiVerdicts map[string]collaborators.AIVerdict) {
	scoresByWord := map[string]map[string]int{}

	for participant, details := range r.WordDetails {
		for i, d := range details {
			if d.Validated != nil {
				continue // already resolved (dictionary-valid, or host-approved earlier)
			}
			verdict, ok := aiVerdicts[d.Word]
			valid := ok && verdict.IsValid
			r.WordDetails[participant][i].Validated = domain.BoolPtr(valid)
			r.WordDetails[participant][i].AIVerified = ok
			if valid {
				_, bonus, total := scoring.WordScore(d.Word, d.ComboLevel)
				r.WordDetails[participant][i].Score = total
				r.WordDetails[participant][i].ComboBonus = bonus
				r.Scores[participant] += total
			}
		}
	}

	for participant, details := range r.WordDetails {
		byWord := map[string]int{}
		for _, d := range details {
			if d.Validated != nil && *d.Validated {
				byWord[d.Word] = d.Score
			}
		}
		scoresByWord[string(participant)] = byWord
	}

	deltas, duplicates := scoring.CollapseDuplicates(scoresByWord)
	for participant, delta := range deltas {
		r.Scores[domain.ParticipantName(participant)] -= delta
	}
	for participant, details := range r.WordDetails {
		dups := duplicates[string(participant)]
		for i, d := range details {
			if dups != nil && dups[d.Word] {
				r.WordDetails[participant][i].IsDuplicate = true
				r.WordDetails[participant][i].Score = 0
			}
		}
	}

	c.runFinalAchievements(r)
}

func (c *Coordinator) runFinalAchievements(r *room.Room) {
	longest := ""
	longestOwner := domain.ParticipantName("")
	for participant, details := range r.WordDetails {
		for _, d := range details {
			if len([]rune(d.Word)) > len([]rune(longest)) {
				longest = d.Word
				longestOwner = participant
			}
		}
	}

	for participant, details := range r.WordDetails {
		total := len(details)
		allValidated := true
		for _, d := range details {
			if d.Validated == nil || !*d.Validated {
				allValidated = false
				break
			}
		}
		awarded := scoring.FinalAchievements(scoring.FinalRoomContext{
			TotalWords:      total,
			LongestWord:     longest,
			IsLongestInRoom: participant == longestOwner,
			AllValidated:    allValidated,
			AlreadyAwarded:  r.AchievementsAwarded[participant],
		})
		for _, key := range awarded {
			r.AchievementsAwarded[participant][key] = struct{}{}
		}
	}
}

// finalScoresLocked builds the validatedScores payload, r.Mu already held.
func (c *Coordinator) finalScoresLocked(r *room.Room) []ValidatedScore {
	out := make([]ValidatedScore, 0, len(r.Scores))
	for name, score := range r.Scores {
		out = append(out, ValidatedScore{Participant: name, Score: score, Title: titleFor(r, name)})
	}
	return out
}

func titleFor(r *room.Room, name domain.ParticipantName) string {
	best := 0
	for _, d := range r.WordDetails[name] {
		if d.Validated != nil && *d.Validated && len([]rune(d.Word)) > best {
			best = len([]rune(d.Word))
		}
	}
	switch {
	case best >= 9:
		return "Lexicographer"
	case best >= 6:
		return "Wordsmith"
	case best > 0:
		return "Participant"
	default:
		return ""
	}
}

func (c *Coordinator) reportAnalytics(r *room.Room, code domain.RoomCode) {
	r.Mu.Lock()
	scores := make([]collaborators.GameResultScore, 0, len(r.Scores))
	for name, score := range r.Scores {
		scores = append(scores, collaborators.GameResultScore{
			Participant: string(name), Score: score, WordCount: len(r.WordDetails[name]),
		})
	}
	meta := map[string]any{"language": r.Language, "isRanked": r.IsRanked}
	authMap := map[string]string{}
	for name, p := range r.Participants {
		authMap[string(name)] = string(p.AuthUserID)
	}
	r.Mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.analytics.ProcessGameResults(ctx, string(code), scores, meta, authMap)
}

// HostValidateWords implements the host-adjudicated fallback path (spec
// §4.6): within the validation deadline, the host supplies a set of
// approved non-dictionary words; those become validated=true and their
// preserved combo data is scored; approved words are also forwarded to the
// Community Vote hook.
func (c *Coordinator) HostValidateWords(ctx context.Context, r *room.Room, approved map[string]bool) {
	r.Mu.Lock()
	code := r.Code
	for participant, details := range r.WordDetails {
		for i, d := range details {
			if d.Validated != nil {
				continue
			}
			isApproved := approved[d.Word]
			r.WordDetails[participant][i].Validated = domain.BoolPtr(isApproved)
			if isApproved {
				_, bonus, total := scoring.WordScore(d.Word, d.ComboLevel)
				r.WordDetails[participant][i].Score = total
				r.WordDetails[participant][i].ComboBonus = bonus
				r.Scores[participant] += total
			}
		}
	}
	r.ClearValidationDeadline()
	r.Mu.Unlock()

	if c.vote != nil {
		for word, ok := range approved {
			if ok {
				_ = c.vote.RecordVote(ctx, string(code), word, true)
			}
		}
	}

	r.Mu.Lock()
	c.runFinalAchievements(r)
	snapshot := snapshotForPersist(r)
	scores := c.finalScoresLocked(r)
	r.Mu.Unlock()

	_ = c.persist.SaveRoom(ctx, string(code), snapshot)
	c.broadcast.BroadcastToRoom(code, "validationComplete", scores)
}

// snapshotForPersist builds the JSON-able shape saved to the Persistence
// Mirror. Caller must hold r.Mu.
func snapshotForPersist(r *room.Room) any {
	return map[string]any{
		"code":      r.Code,
		"gameState": r.GameState,
		"scores":    r.Scores,
		"host":      r.Host,
		"language":  r.Language,
	}
}
