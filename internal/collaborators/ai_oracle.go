// Package collaborators implements thin HTTP+JSON clients for the external
// collaborators named in spec §6: the AI Oracle, the Community Vote Hook,
// and the Analytics Sink. The teacher wraps its external services
// (internal/v1/summary, internal/v1/stream_processor) as gRPC clients over
// generated protobuf stubs; those generated packages are absent from the
// retrieval pack and fabricating them is disallowed, so these clients keep
// the teacher's client-wrapper shape (NewClient/Close, context timeouts,
// narrow method surface) but speak HTTP+JSON instead of gRPC.
package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lexiclash/core/internal/domain"
)

// AIVerdict is the AI Oracle's response for one candidate.
type AIVerdict struct {
	IsValid      bool   `json:"isValid"`
	IsAIVerified bool   `json:"isAiVerified"`
	Reason       string `json:"reason,omitempty"`
}

// ErrAIUnavailable is the sentinel returned when the AI Oracle cannot be
// reached or times out — callers must treat this as "record with
// validated=false", never as a fatal error (spec §4.5, §4.6).
var ErrAIUnavailable = fmt.Errorf("ai oracle unavailable")

// AIOracleClient wraps the AI word-validation service (spec §6).
type AIOracleClient struct {
	baseURL string
	http    *http.Client
}

// NewAIOracleClient builds a client with a bounded per-call timeout,
// mirroring the teacher's gRPC client constructors.
func NewAIOracleClient(baseURL string, timeout time.Duration) *AIOracleClient {
	return &AIOracleClient{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

// ValidateWord implements validateWordWithAI(word, lang).
func (c *AIOracleClient) ValidateWord(ctx context.Context, word string, lang domain.Language) (AIVerdict, error) {
	if c == nil || c.baseURL == "" {
		return AIVerdict{}, ErrAIUnavailable
	}
	reqBody, _ := json.Marshal(map[string]string{"word": word, "lang": string(lang)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/validate", bytes.NewReader(reqBody))
	if err != nil {
		return AIVerdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return AIVerdict{}, ErrAIUnavailable
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return AIVerdict{}, ErrAIUnavailable
	}

	var verdict AIVerdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return AIVerdict{}, err
	}
	return verdict, nil
}

// ValidateWords implements validateWordsWithAI(words[], lang), the batched
// form used by end-of-round processing (spec §4.6) under a per-room budget.
func (c *AIOracleClient) ValidateWords(ctx context.Context, words []string, lang domain.Language) (map[string]AIVerdict, error) {
	if c == nil || c.baseURL == "" {
		return nil, ErrAIUnavailable
	}
	reqBody, _ := json.Marshal(map[string]any{"words": words, "lang": string(lang)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/validate-batch", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, ErrAIUnavailable
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, ErrAIUnavailable
	}

	var verdicts map[string]AIVerdict
	if err := json.NewDecoder(resp.Body).Decode(&verdicts); err != nil {
		return nil, err
	}
	return verdicts, nil
}
