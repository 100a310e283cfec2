package hardware

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIntervalSchedule_Next(t *testing.T) {
	first := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	s := intervalSchedule{first: first, every: 800 * time.Millisecond}

	assert.Equal(t, first, s.Next(first.Add(-time.Hour)))
	assert.Equal(t, first.Add(800*time.Millisecond), s.Next(first))
	assert.Equal(t, first.Add(1600*time.Millisecond), s.Next(first.Add(900*time.Millisecond)))
	assert.Equal(t, first.Add(1600*time.Millisecond), s.Next(first.Add(800*time.Millisecond)))
}

func TestScheduler_EveryAndCancel(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	s.Start()
	defer s.Stop()

	var n atomic.Int32
	id := s.Every(5*time.Millisecond, 10*time.Millisecond, func() { n.Add(1) })
	require.Eventually(t, func() bool { return n.Load() >= 3 }, 2*time.Second, 2*time.Millisecond)

	s.Cancel([]cron.EntryID{id})
	assert.Equal(t, 0, s.Len())
	stopped := n.Load()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, n.Load(), stopped+1)
}

func TestScheduler_RecoversPanickingJob(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	s.Start()
	defer s.Stop()

	var n atomic.Int32
	s.Every(0, 10*time.Millisecond, func() {
		n.Add(1)
		panic("job failed")
	})
	require.Eventually(t, func() bool { return n.Load() >= 2 }, 2*time.Second, 2*time.Millisecond)
}
