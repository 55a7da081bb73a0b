package dispatcher

import (
	"sync"
	"time"

	"github.com/lexiclash/core/internal/domain"
	"github.com/lexiclash/core/internal/room"
)

// leaderboardCoalescer implements spec §4.5's "throttled leaderboard update
// (coalesce within a small window; only the latest state is emitted per
// window per room)": repeated calls within the same room collapse into a
// single broadcast fired on the window's trailing edge.
type leaderboardCoalescer struct {
	mu      sync.Mutex
	pending map[domain.RoomCode]*time.Timer
}

func newLeaderboardCoalescer() *leaderboardCoalescer {
	return &leaderboardCoalescer{pending: map[domain.RoomCode]*time.Timer{}}
}

func (d *Dispatcher) scheduleLeaderboardBroadcast(code domain.RoomCode, r *room.Room) {
	window := d.cfg.LeaderboardThrottle
	if window <= 0 {
		d.emitLeaderboard(code, r)
		return
	}

	d.leaderboard.mu.Lock()
	if _, scheduled := d.leaderboard.pending[code]; scheduled {
		d.leaderboard.mu.Unlock()
		return
	}
	d.leaderboard.pending[code] = time.AfterFunc(window, func() {
		d.leaderboard.mu.Lock()
		delete(d.leaderboard.pending, code)
		d.leaderboard.mu.Unlock()
		d.emitLeaderboard(code, r)
	})
	d.leaderboard.mu.Unlock()
}

func (d *Dispatcher) emitLeaderboard(code domain.RoomCode, r *room.Room) {
	r.Mu.Lock()
	scores := make(map[domain.ParticipantName]int, len(r.Scores))
	for name, score := range r.Scores {
		scores[name] = score
	}
	r.Mu.Unlock()
	d.broadcast.BroadcastToRoom(code, string(EventUpdateLeaderboard), scores)
}
