package procpool

import (
	"context"
	"sync"
	"time"

	gopsutil "github.com/shirou/gopsutil/v4/process"
)

// ProcessStats accumulates per-member resource usage and stream
// counters for embedding into the run annotation (spec.md §4.3 process
// watcher, §4.4 step 7).
type ProcessStats struct {
	MaxCPUPercent    float64
	MaxRSSBytes      uint64
	MaxMemoryPercent float32

	StdoutBytes int64
	StdoutLines int
	StderrBytes int64
	StderrLines int
}

func (s *ProcessStats) merge(cpu float64, rss uint64, memPct float32) {
	if cpu > s.MaxCPUPercent {
		s.MaxCPUPercent = cpu
	}
	if rss > s.MaxRSSBytes {
		s.MaxRSSBytes = rss
	}
	if memPct > s.MaxMemoryPercent {
		s.MaxMemoryPercent = memPct
	}
}

// Watcher samples cpu_percent, rss, and memory_percent for every
// tracked live pid at a fixed interval, keeping per-pid max values
// (spec.md §4.3). One Watcher is shared across all members of an
// ExecGroup so its Sum() gives the group-level totals.
type Watcher struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	stats map[int]*ProcessStats
	label map[int]string
}

func NewWatcher(ctx context.Context) *Watcher {
	wctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		ctx:    wctx,
		cancel: cancel,
		done:   make(chan struct{}),
		stats:  make(map[int]*ProcessStats),
		label:  make(map[int]string),
	}
	go w.run()
	return w
}

// Track registers a pid to sample, under the given label.
func (w *Watcher) Track(pid int, label string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.stats[pid]; !ok {
		w.stats[pid] = &ProcessStats{}
	}
	w.label[pid] = label
}

func (w *Watcher) run() {
	defer close(w.done)
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.sample()
		}
	}
}

func (w *Watcher) sample() {
	w.mu.Lock()
	pids := make([]int, 0, len(w.stats))
	for pid := range w.stats {
		pids = append(pids, pid)
	}
	w.mu.Unlock()

	for _, pid := range pids {
		proc, err := gopsutil.NewProcess(int32(pid))
		if err != nil {
			continue // process already exited
		}
		cpuPct, _ := proc.CPUPercent()
		memInfo, _ := proc.MemoryInfo()
		memPct, _ := proc.MemoryPercent()

		var rss uint64
		if memInfo != nil {
			rss = memInfo.RSS
		}

		w.mu.Lock()
		if s, ok := w.stats[pid]; ok {
			s.merge(cpuPct, rss, memPct)
		}
		w.mu.Unlock()
	}
}

// StatsFor returns the accumulated stats for pid, merged into base.
func (w *Watcher) StatsFor(pid int, base ProcessStats) ProcessStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.stats[pid]; ok {
		base.MaxCPUPercent = s.MaxCPUPercent
		base.MaxRSSBytes = s.MaxRSSBytes
		base.MaxMemoryPercent = s.MaxMemoryPercent
	}
	return base
}

// Sum aggregates the max values of every tracked pid into a
// pipeline/group-level total (spec.md §4.3 "pipeline-level sums").
func (w *Watcher) Sum() ProcessStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	var sum ProcessStats
	for _, s := range w.stats {
		sum.MaxCPUPercent += s.MaxCPUPercent
		sum.MaxRSSBytes += s.MaxRSSBytes
		sum.MaxMemoryPercent += s.MaxMemoryPercent
	}
	return sum
}

// Close stops sampling and waits for the background loop to exit.
func (w *Watcher) Close() {
	w.cancel()
	<-w.done
}
