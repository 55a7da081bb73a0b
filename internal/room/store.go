package room

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lexiclash/core/internal/domain"
)

// Store is the in-memory codeRoom mapping (spec §4.3). A coarse lock
// guards only insert/remove of the top-level map; per-room mutation goes
// through the Room's own Mu.
type Store struct {
	mu    sync.RWMutex
	rooms map[domain.RoomCode]*Room

	log *zap.Logger

	idleThreshold  time.Duration // a) empty + idle -> removed
	staleThreshold time.Duration // b) lastActivityAt older than this -> removed

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewStore builds an empty Room Store. idleThreshold and staleThreshold
// correspond to the distilled spec's two sweep tiers in §4.3.
func NewStore(log *zap.Logger, idleThreshold, staleThreshold time.Duration) *Store {
	return &Store{
		rooms:          map[domain.RoomCode]*Room{},
		log:            log,
		idleThreshold:  idleThreshold,
		staleThreshold: staleThreshold,
	}
}

// Get returns the room for code, or nil if it doesn't exist.
func (s *Store) Get(code domain.RoomCode) *Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[code]
}

// Insert adds a freshly created room, failing if the code is already taken.
func (s *Store) Insert(r *Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[r.Code]; exists {
		return false
	}
	s.rooms[r.Code] = r
	return true
}

// Remove deletes a room from the store (host-initiated close, grace-period
// expiry with no hand-off candidate, or sweeper eviction).
func (s *Store) Remove(code domain.RoomCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, code)
}

// Codes returns a snapshot of all current room codes.
func (s *Store) Codes() []domain.RoomCode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.RoomCode, 0, len(s.rooms))
	for c := range s.rooms {
		out = append(out, c)
	}
	return out
}

// Count returns the number of currently held rooms.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// snapshot returns a copy of the rooms map for sweeping without holding the
// store lock across each room's own lock acquisition.
func (s *Store) snapshot() map[domain.RoomCode]*Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.RoomCode]*Room, len(s.rooms))
	for k, v := range s.rooms {
		out[k] = v
	}
	return out
}

// StartSweeper launches the background eviction loop, grounded on
// t0m0m0-shiritori's RoomManager.StartCleanup/cleanupEmptyRooms ticker
// pattern, generalized into the distilled spec's two-tier sweep: a short
// interval evicting empty+idle rooms, and sampling lastActivityAt on every
// pass to also catch globally stale rooms. onEvict lets the caller cancel a
// room's timers and notify the persistence mirror before it's forgotten.
func (s *Store) StartSweeper(interval time.Duration, onEvict func(*Room)) {
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case now := <-ticker.C:
				s.sweep(now, onEvict)
			}
		}
	}()
}

func (s *Store) sweep(now time.Time, onEvict func(*Room)) {
	for code, r := range s.snapshot() {
		r.Mu.Lock()
		empty := len(r.ActiveParticipants()) == 0
		idleFor := now.Sub(r.LastActivityAt)
		evict := (empty && idleFor > s.idleThreshold) || idleFor > s.staleThreshold
		r.Mu.Unlock()

		if !evict {
			continue
		}
		s.Remove(code)
		if s.log != nil {
			s.log.Info("swept room", zap.String("room", string(code)), zap.Bool("empty", empty), zap.Duration("idleFor", idleFor))
		}
		if onEvict != nil {
			onEvict(r)
		}
	}
}

// StopSweeper cancels the sweeper goroutine and waits for it to exit.
func (s *Store) StopSweeper() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
}
