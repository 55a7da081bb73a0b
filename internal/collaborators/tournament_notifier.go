package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// TournamentNotifier wraps the tournament controller's single inbound hook
// point relevant to the core, notifyTournamentPlayerLeft (spec §4.8: "if
// tournament mode, notify the tournament controller"). Round sequencing and
// standings computation live entirely in the external controller; the core
// only persists the Tournament aggregate and fires this one notification.
type TournamentNotifier struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewTournamentNotifier(baseURL string, timeout time.Duration, log *zap.Logger) *TournamentNotifier {
	return &TournamentNotifier{baseURL: baseURL, http: &http.Client{Timeout: timeout}, log: log}
}

// NotifyPlayerLeft fires on a player's grace-period expiry in a tournament
// room. Best-effort: failure here must not block the core's own cleanup.
func (n *TournamentNotifier) NotifyPlayerLeft(ctx context.Context, tournamentID, roomCode, participant string) {
	if n == nil || n.baseURL == "" {
		return
	}
	body, _ := json.Marshal(map[string]string{
		"tournamentId": tournamentID, "roomCode": roomCode, "participant": participant,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/v1/tournaments/"+tournamentID+"/player-left", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.http.Do(req)
	if err != nil {
		if n.log != nil {
			n.log.Warn("tournament notifier unavailable", zap.String("tournamentId", tournamentID), zap.Error(err))
		}
		return
	}
	resp.Body.Close()
}
