package procpool

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProcessStats_MergeKeepsMax(t *testing.T) {
	var s ProcessStats
	s.merge(10, 1000, 5)
	s.merge(5, 2000, 1)
	s.merge(20, 500, 8)

	assert.Equal(t, 20.0, s.MaxCPUPercent)
	assert.EqualValues(t, 2000, s.MaxRSSBytes)
	assert.EqualValues(t, 8, s.MaxMemoryPercent)
}

func TestWatcher_TracksAndSamplesLiveProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher(ctx)
	defer w.Close()

	pid := os.Getpid()
	w.Track(pid, "self")

	assert.Eventually(t, func() bool {
		stats := w.StatsFor(pid, ProcessStats{})
		return stats.MaxRSSBytes > 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestWatcher_SumAggregatesAcrossTrackedPids(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher(ctx)
	defer w.Close()

	w.Track(os.Getpid(), "self")
	w.stats[os.Getpid()].MaxRSSBytes = 100
	w.Track(99999999, "nonexistent")
	w.stats[99999999].MaxRSSBytes = 50

	sum := w.Sum()
	assert.EqualValues(t, 150, sum.MaxRSSBytes)
}

func TestWatcher_StatsForUnknownPidReturnsBase(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewWatcher(ctx)
	defer w.Close()

	base := ProcessStats{StdoutBytes: 42}
	got := w.StatsFor(12345, base)
	assert.EqualValues(t, 42, got.StdoutBytes)
	assert.Zero(t, got.MaxRSSBytes)
}

func TestWatcher_CloseStopsSamplingLoop(t *testing.T) {
	w := NewWatcher(context.Background())
	w.Close()
	select {
	case <-w.done:
	default:
		t.Fatal("Close must close the done channel")
	}
}
