package roundcoordinator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTimer_StartZeroSecondsIsNoOp(t *testing.T) {
	var ticked, expired bool
	timer := NewTimer(func(int) { ticked = true }, func() { expired = true })
	timer.Start(0)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, ticked)
	assert.False(t, expired)
	assert.Equal(t, 0, timer.SecondsLeft())
}

// TestTimer_RunsDownToZeroAndFiresExpired covers spec §8 scenario 6:
// a round with no further submissions reaches remainingSeconds == 0 and
// auto-ends.
func TestTimer_RunsDownToZeroAndFiresExpired(t *testing.T) {
	var mu sync.Mutex
	var ticks []int
	expired := make(chan struct{})

	timer := NewTimer(
		func(secondsLeft int) {
			mu.Lock()
			ticks = append(ticks, secondsLeft)
			mu.Unlock()
		},
		func() { close(expired) },
	)
	timer.Start(1)

	select {
	case <-expired:
	case <-time.After(3 * time.Second):
		t.Fatal("timer never fired onExpired")
	}
	assert.Equal(t, 0, timer.SecondsLeft())
}

func TestTimer_StopCancelsBeforeExpiry(t *testing.T) {
	expired := false
	timer := NewTimer(func(int) {}, func() { expired = true })
	timer.Start(60)
	timer.Stop()
	time.Sleep(20 * time.Millisecond)
	assert.False(t, expired)
}

func TestTimer_StopIsIdempotent(t *testing.T) {
	timer := NewTimer(func(int) {}, func() {})
	timer.Start(60)
	timer.Stop()
	timer.Stop()
}
