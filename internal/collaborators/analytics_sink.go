package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// GameResultScore is one participant's final scoreline handed to the
// analytics sink.
type GameResultScore struct {
	Participant string `json:"participant"`
	Score       int    `json:"score"`
	WordCount   int    `json:"wordCount"`
}

// XPResult is the per-participant XP delta the analytics sink computes.
type XPResult struct {
	Participant string `json:"participant"`
	XPAwarded   int    `json:"xpAwarded"`
}

// AnalyticsSink wraps processGameResults(code, scores[], meta, authMap)
// (spec §6), invoked after the validatedScores broadcast. Failure must not
// affect gameplay — every method here logs and swallows its own errors
// rather than returning them to the round coordinator.
type AnalyticsSink struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewAnalyticsSink(baseURL string, timeout time.Duration, log *zap.Logger) *AnalyticsSink {
	return &AnalyticsSink{baseURL: baseURL, http: &http.Client{Timeout: timeout}, log: log}
}

// ProcessGameResults posts the finished round's scores for persistent
// leaderboard/XP aggregation. Runs fire-and-forget from the round
// coordinator's perspective: the caller should invoke this in its own
// goroutine after broadcasting validatedScores, never while holding the
// room lock.
func (a *AnalyticsSink) ProcessGameResults(ctx context.Context, code string, scores []GameResultScore, meta map[string]any, authMap map[string]string) []XPResult {
	if a == nil || a.baseURL == "" {
		return nil
	}
	body, err := json.Marshal(map[string]any{
		"code": code, "scores": scores, "meta": meta, "authMap": authMap,
	})
	if err != nil {
		a.logErr(code, err)
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/game-results", bytes.NewReader(body))
	if err != nil {
		a.logErr(code, err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		a.logErr(code, err)
		return nil
	}
	defer resp.Body.Close()

	var out struct {
		XPResults []XPResult `json:"xpResults"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		a.logErr(code, err)
		return nil
	}
	return out.XPResults
}

func (a *AnalyticsSink) logErr(code string, err error) {
	if a.log != nil {
		a.log.Warn("analytics sink failed, gameplay unaffected", zap.String("room", code), zap.Error(err))
	}
}
