package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// CommunityVoteHook wraps the community-vote subsystem's core-facing hook
// points (spec §6): recordVote, collectNonDictionaryWords,
// getWordForPlayer. Only the hook points are specified; the subsystem's
// internals are out of scope (spec §1).
type CommunityVoteHook struct {
	baseURL string
	http    *http.Client
}

func NewCommunityVoteHook(baseURL string, timeout time.Duration) *CommunityVoteHook {
	return &CommunityVoteHook{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

// RecordVote forwards an approved non-dictionary word to the community
// vote subsystem (spec §4.6: "non-dictionary words that become approved
// are also forwarded to the community-vote hook").
func (h *CommunityVoteHook) RecordVote(ctx context.Context, roomCode, word string, approved bool) error {
	if h == nil || h.baseURL == "" {
		return nil // no-op when the collaborator isn't configured
	}
	body, _ := json.Marshal(map[string]any{"roomCode": roomCode, "word": word, "approved": approved})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/v1/votes", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.http.Do(req)
	if err != nil {
		return err // transient; caller must not fail gameplay on this
	}
	defer resp.Body.Close()
	return nil
}

// CollectNonDictionaryWords requests candidates for community voting from a
// finished room. Returns nil, nil if the collaborator is unconfigured.
func (h *CommunityVoteHook) CollectNonDictionaryWords(ctx context.Context, roomCode string) ([]string, error) {
	if h == nil || h.baseURL == "" {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/v1/rooms/"+roomCode+"/non-dictionary-words", nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var words []string
	if err := json.NewDecoder(resp.Body).Decode(&words); err != nil {
		return nil, err
	}
	return words, nil
}

// GetWordForPlayer fetches one candidate word for display to a voting
// player, excluding the submitter's own name.
func (h *CommunityVoteHook) GetWordForPlayer(ctx context.Context, candidates []string, excludeName string) (string, error) {
	if h == nil || h.baseURL == "" || len(candidates) == 0 {
		return "", nil
	}
	body, _ := json.Marshal(map[string]any{"candidates": candidates, "exclude": excludeName})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/v1/next-word", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out struct {
		Word string `json:"word"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Word, nil
}
