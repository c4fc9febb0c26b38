// Package scheduler is the DAG driver of spec.md §4.7: it declares
// every step instance's runs in dependency order, then dispatches each
// step's runs — concurrently within a step, subject to
// _cluster_job_quota, sequentially across steps along the DAG — to
// either the local executor or a cluster adapter.
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/uap-go/uap/internal/engine"
	"github.com/uap-go/uap/internal/engine/builder"
	"github.com/uap-go/uap/internal/xlog"
)

// Dispatch runs one declared Run to completion, local or cluster.
type Dispatch func(ctx context.Context, run *engine.Run, kindName string) error

// RunOutcome is one run's terminal state after a pipeline execution.
type RunOutcome struct {
	TaskID  string
	Err     error
	Blocked bool // skipped because an ancestor step failed
}

// TopoOrder returns pipeline's step instances in a valid dependency
// order (parents before children), per spec.md §4.7 "iterate runs in a
// valid topological order". Ties break by declaration order, giving
// Property 2 (determinism) a stable instance-level analog.
func TopoOrder(p *engine.Pipeline) ([]*engine.Instance, error) {
	instances := p.Instances()
	visited := make(map[string]int) // 0 unvisited, 1 in-progress, 2 done
	var order []*engine.Instance

	var visit func(inst *engine.Instance) error
	visit = func(inst *engine.Instance) error {
		switch visited[inst.Name] {
		case 2:
			return nil
		case 1:
			return fmt.Errorf("%w: dependency cycle at step %q", engine.ErrConfiguration, inst.Name)
		}
		visited[inst.Name] = 1
		for _, parent := range inst.Parents {
			if err := visit(parent); err != nil {
				return err
			}
		}
		visited[inst.Name] = 2
		order = append(order, inst)
		return nil
	}

	for _, inst := range instances {
		if err := visit(inst); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// DeclareAll resolves connection bindings and materializes runs for
// every step instance, in topological order.
func DeclareAll(ctx context.Context, p *engine.Pipeline) ([]*engine.Instance, error) {
	order, err := TopoOrder(p)
	if err != nil {
		return nil, err
	}
	for _, inst := range order {
		if !inst.Kind.IsSource() {
			if err := builder.BuildRunInputs(ctx, p, inst); err != nil {
				return nil, err
			}
		}
		if _, err := inst.Runs(ctx); err != nil {
			return nil, fmt.Errorf("declaring runs for step %q: %w", inst.Name, err)
		}
	}
	return order, nil
}

// Execute declares every run, then dispatches each step's runs in
// topological order: all runs of one step execute concurrently
// (bounded by quota[stepName], 0 meaning GOMAXPROCS-based default),
// and a step whose own or any ancestor's run failed is not dispatched —
// its runs are reported Blocked instead (spec.md §7 "the DAG driver
// marks that run BAD and continues with runs whose dependency closure
// is unaffected").
func Execute(ctx context.Context, p *engine.Pipeline, quota map[string]int, dispatch Dispatch) ([]RunOutcome, error) {
	order, err := DeclareAll(ctx, p)
	if err != nil {
		return nil, err
	}

	failedStep := make(map[string]bool)
	var outcomes []RunOutcome

	for _, inst := range order {
		ancestorFailed := false
		for _, parent := range inst.Parents {
			if failedStep[parent.Name] {
				ancestorFailed = true
				break
			}
		}

		runs, err := inst.Runs(ctx)
		if err != nil {
			return nil, err
		}

		if ancestorFailed {
			failedStep[inst.Name] = true
			for _, r := range runs {
				outcomes = append(outcomes, RunOutcome{TaskID: r.TaskID(), Blocked: true})
			}
			xlog.Warn(ctx, "skipping step: ancestor failed", "step", inst.Name)
			continue
		}

		limit := quota[inst.Name]
		if limit <= 0 {
			limit = runtime.GOMAXPROCS(0)
		}
		sem := make(chan struct{}, limit)
		results := make([]RunOutcome, len(runs))
		var wg sync.WaitGroup
		for i, r := range runs {
			wg.Add(1)
			sem <- struct{}{}
			go func(i int, r *engine.Run) {
				defer wg.Done()
				defer func() { <-sem }()
				err := dispatch(ctx, r, inst.Kind.Name())
				results[i] = RunOutcome{TaskID: r.TaskID(), Err: err}
			}(i, r)
		}
		wg.Wait()

		stepFailed := false
		for _, res := range results {
			if res.Err != nil {
				stepFailed = true
			}
			outcomes = append(outcomes, res)
		}
		if stepFailed {
			failedStep[inst.Name] = true
		}
	}

	return outcomes, nil
}
