package schedule_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/grovetools/agentwatch/internal/daemon/schedule"
	"github.com/grovetools/agentwatch/internal/daemon/schedule/schedtest"
)

func TestRealAfter(t *testing.T) {
	done := make(chan struct{})
	schedule.New().After(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestRealEveryStops(t *testing.T) {
	var n atomic.Int32
	task := schedule.New().Every(5*time.Millisecond, func() { n.Add(1) })
	assert.Eventually(t, func() bool { return n.Load() >= 2 }, 2*time.Second, time.Millisecond)
	assert.True(t, task.Stop())
	assert.False(t, task.Stop())

	time.Sleep(20 * time.Millisecond)
	after := n.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, n.Load())
}

func TestSlotSinglePending(t *testing.T) {
	clock := schedtest.New(time.Unix(0, 0))
	slot := schedule.NewSlot(clock)
	n := 0

	assert.True(t, slot.Schedule(time.Second, func() { n++ }))
	assert.False(t, slot.Schedule(time.Second, func() { n += 100 }))
	assert.True(t, slot.Pending())
	assert.Equal(t, 1, clock.Pending())

	clock.Advance(time.Second)
	assert.Equal(t, 1, n)
	assert.False(t, slot.Pending())

	assert.True(t, slot.Schedule(time.Second, func() { n++ }))
	slot.Cancel()
	assert.False(t, slot.Pending())
	clock.Advance(time.Minute)
	assert.Equal(t, 1, n)
}
