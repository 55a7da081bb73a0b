package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/lexiclash/core/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestStore(idle, stale time.Duration) *Store {
	return NewStore(zap.NewNop(), idle, stale)
}

func TestStore_InsertGetCountCodes(t *testing.T) {
	s := newTestStore(time.Hour, time.Hour)
	r := newTestRoom()
	s.Insert(r)

	got := s.Get(r.Code)
	assert.Same(t, r, got)
	assert.Equal(t, 1, s.Count())
	assert.Equal(t, []domain.RoomCode{r.Code}, s.Codes())
}

func TestStore_GetMissingReturnsNil(t *testing.T) {
	s := newTestStore(time.Hour, time.Hour)
	assert.Nil(t, s.Get("NOPE"))
}

func TestStore_Remove(t *testing.T) {
	s := newTestStore(time.Hour, time.Hour)
	r := newTestRoom()
	s.Insert(r)
	s.Remove(r.Code)

	assert.Nil(t, s.Get(r.Code))
	assert.Equal(t, 0, s.Count())
}

func TestStore_InsertRejectsDuplicateCode(t *testing.T) {
	s := newTestStore(time.Hour, time.Hour)
	r := newTestRoom()
	assert.True(t, s.Insert(r))
	assert.False(t, s.Insert(newTestRoom()))
}

func TestStore_SweeperEvictsEmptyIdleRoom(t *testing.T) {
	s := newTestStore(10*time.Millisecond, time.Hour)
	r := newTestRoom()
	r.LastActivityAt = time.Now().Add(-time.Minute)
	s.Insert(r)

	evicted := make(chan domain.RoomCode, 1)
	s.StartSweeper(5*time.Millisecond, func(evictedRoom *Room) {
		evicted <- evictedRoom.Code
	})
	defer s.StopSweeper()

	select {
	case code := <-evicted:
		assert.Equal(t, r.Code, code)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never evicted the idle empty room")
	}

	assert.Nil(t, s.Get(r.Code))
}

func TestStore_SweeperKeepsFreshRoom(t *testing.T) {
	s := newTestStore(time.Hour, time.Hour)
	r := newTestRoom()
	r.AddParticipant(&ParticipantRecord{Name: "alice", JoinedAt: time.Now()})
	r.LastActivityAt = time.Now()
	s.Insert(r)

	done := make(chan struct{})
	ticks := 0
	s.StartSweeper(5*time.Millisecond, func(*Room) {
		ticks++
	})
	time.AfterFunc(30*time.Millisecond, func() { close(done) })
	<-done
	s.StopSweeper()

	assert.Equal(t, 0, ticks)
	assert.NotNil(t, s.Get(r.Code))
}

func TestStore_StopSweeperIsSafeAfterStart(t *testing.T) {
	s := newTestStore(time.Hour, time.Hour)
	s.StartSweeper(time.Millisecond, func(*Room) {})
	s.StopSweeper()
}
