package reconnect

import (
	"time"

	"github.com/lexiclash/core/internal/domain"
	"github.com/lexiclash/core/internal/room"
)

// PresenceSampler implements spec §4.8 "Presence": a background task that
// samples each active participant's heartbeat age and transitions
// PresenceStatus between active and weak. It never triggers a disconnect
// itself — that remains the transport layer's job.
type PresenceSampler struct {
	store           *room.Store
	broadcast       Broadcaster
	interval        time.Duration
	missedThreshold int
	stopCh          chan struct{}
	doneCh          chan struct{}
}

func NewPresenceSampler(store *room.Store, broadcast Broadcaster, interval time.Duration, missedThreshold int) *PresenceSampler {
	return &PresenceSampler{
		store: store, broadcast: broadcast, interval: interval, missedThreshold: missedThreshold,
		stopCh: make(chan struct{}), doneCh: make(chan struct{}),
	}
}

func (s *PresenceSampler) Start() { go s.run() }

func (s *PresenceSampler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *PresenceSampler) run() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.sampleAll(now)
		}
	}
}

func (s *PresenceSampler) sampleAll(now time.Time) {
	for _, code := range s.store.Codes() {
		r := s.store.Get(code)
		if r == nil {
			continue
		}
		s.sampleRoom(r, now)
	}
}

func (s *PresenceSampler) sampleRoom(r *room.Room, now time.Time) {
	type transition struct {
		name domain.ParticipantName
		to   domain.PresenceStatus
	}
	var changed []transition

	r.Mu.Lock()
	code := r.Code
	for _, p := range r.ActiveParticipants() {
		missed := int(now.Sub(p.LastHeartbeatAt) / s.interval)
		switch {
		case missed >= s.missedThreshold && p.PresenceStatus != domain.PresenceWeak:
			p.PresenceStatus = domain.PresenceWeak
			p.MissedHeartbeats = missed
			changed = append(changed, transition{p.Name, domain.PresenceWeak})
		case missed < s.missedThreshold && p.PresenceStatus == domain.PresenceWeak:
			p.PresenceStatus = domain.PresenceActive
			p.MissedHeartbeats = 0
			changed = append(changed, transition{p.Name, domain.PresenceActive})
		default:
			p.MissedHeartbeats = missed
		}
	}
	r.Mu.Unlock()

	for _, t := range changed {
		s.broadcast.BroadcastToRoom(code, "playerConnectionStatusChanged", map[string]string{
			"participant": string(t.name), "status": string(t.to),
		})
	}
}
