package procpool

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/uap-go/uap/internal/engine"
	"github.com/uap-go/uap/internal/xlog"
)

// GroupResult is the outcome of running one ExecGroup: every member's
// result, in declaration order, and the group's own watcher totals.
type GroupResult struct {
	Members []MemberResult
	Sum     ProcessStats
}

// Failed reports whether any member of the group failed.
func (g GroupResult) Failed() bool {
	for _, m := range g.Members {
		if m.Failed() {
			return true
		}
	}
	return false
}

// FirstError returns the first member error encountered, in member
// order, or nil.
func (g GroupResult) FirstError() error {
	for _, m := range g.Members {
		if m.Err != nil {
			return m.Err
		}
	}
	return nil
}

// RunGroup runs every member of g concurrently under dir, watching
// resource usage, and propagating SIGTERM/SIGINT to all live children
// if the group receives one or ctx is cancelled (spec.md §4.3).
// Members run to completion even if a sibling fails; the group's own
// failure/cancellation semantics are left to the caller (the run
// executor state machine), which inspects GroupResult.
func RunGroup(ctx context.Context, dir string, g *engine.ExecGroup) (GroupResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	watcher := NewWatcher(runCtx)
	defer watcher.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			xlog.Warn(ctx, "exec group received signal, cancelling members", "group", g.Label)
			cancel()
		case <-runCtx.Done():
		}
	}()

	members := g.Members()
	results := make([]MemberResult, len(members))
	var wg sync.WaitGroup
	for i, m := range members {
		wg.Add(1)
		go func(i int, m engine.ExecMember) {
			defer wg.Done()
			switch {
			case m.Command != nil:
				res, _ := runSingle(runCtx, dir, *m.Command, watcher)
				results[i] = res
			case m.Pipeline != nil:
				res, _ := runPipeline(runCtx, dir, *m.Pipeline, watcher)
				results[i] = res
			default:
				results[i] = MemberResult{Err: fmt.Errorf("%w: exec group member has neither command nor pipeline", engine.ErrConfiguration)}
			}
		}(i, m)
	}
	wg.Wait()

	return GroupResult{Members: results, Sum: watcher.Sum()}, nil
}
