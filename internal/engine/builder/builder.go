// Package builder implements the connection model and run builder of
// spec.md §4.1: resolving each step instance's declared input
// connections against its parents' declared outputs, then enumerating
// the per-run_id input path table that step kinds consume from
// Instance.InputPaths when they declare their runs.
package builder

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/uap-go/uap/internal/engine"
	"github.com/uap-go/uap/internal/xlog"
)

// maxConnectionWarnings caps how many "required input unsatisfied"
// warnings are logged per build before the rest are summarized. A UX
// knob, not a correctness rule.
const maxConnectionWarnings = 5

// boundTarget is one resolved "parent_step/out_name" reference, or the
// literal "empty" marker meaning no data on this connection.
type boundTarget struct {
	parentStep string
	outName    string
	empty      bool
}

// Resolve computes, for every declared input connection of child, the
// list of bound targets: explicit _connect entries take precedence,
// falling back to auto-bind by matching local connection names against
// each parent's outputs (spec.md §4.1 bind/auto_bind).
func Resolve(ctx context.Context, p *engine.Pipeline, child *engine.Instance) (map[string][]boundTarget, error) {
	conns := child.Kind.DeclareConnections()
	bindings := make(map[string][]boundTarget)

	satisfiedParents := make(map[string]bool, len(child.Parents))

	for _, in := range conns.Inputs() {
		local := in.LocalName()

		if explicit, ok := child.Connect[local]; ok {
			targets, err := resolveExplicit(p, child, explicit)
			if err != nil {
				return nil, err
			}
			bindings[in.Name] = targets
			for _, t := range targets {
				if !t.empty {
					satisfiedParents[t.parentStep] = true
				}
			}
			continue
		}

		var auto []boundTarget
		for _, parent := range child.Parents {
			parentConns := parent.Kind.DeclareConnections()
			outName := "out/" + local
			if _, ok := parentConns.Get(outName); ok {
				auto = append(auto, boundTarget{parentStep: parent.Name, outName: outName})
				satisfiedParents[parent.Name] = true
			}
		}
		if len(auto) > 0 {
			bindings[in.Name] = auto
		}
	}

	for _, parent := range child.Parents {
		if !satisfiedParents[parent.Name] {
			return nil, fmt.Errorf("%w: step %q has no connection bound to parent %q", engine.ErrConnection, child.Name, parent.Name)
		}
	}

	warned := 0
	for _, in := range conns.Inputs() {
		if in.Optional {
			continue
		}
		if _, ok := bindings[in.Name]; ok {
			continue
		}
		if warned < maxConnectionWarnings {
			xlog.Warn(ctx, "required input connection unsatisfied (deprecation: will become a hard error)",
				"step", child.Name, "connection", in.Name)
		}
		warned++
	}
	if warned > maxConnectionWarnings {
		xlog.Warn(ctx, "additional unsatisfied required connections suppressed",
			"step", child.Name, "count", warned-maxConnectionWarnings)
	}

	return bindings, nil
}

// resolveExplicit parses each "<parent_step>/<out_name>" or "empty"
// entry in an explicit _connect target list.
func resolveExplicit(p *engine.Pipeline, child *engine.Instance, targets []string) ([]boundTarget, error) {
	out := make([]boundTarget, 0, len(targets))
	for _, target := range targets {
		if target == engine.EmptyTarget {
			out = append(out, boundTarget{empty: true})
			continue
		}
		parentName, outName, ok := strings.Cut(target, "/")
		if !ok {
			return nil, fmt.Errorf("%w: step %q: malformed connect target %q, want parent/out_name", engine.ErrConnection, child.Name, target)
		}
		outName = "out/" + outName
		parent, ok := lo.Find(child.Parents, func(i *engine.Instance) bool { return i.Name == parentName })
		if !ok {
			return nil, fmt.Errorf("%w: step %q: connect target %q names a non-parent step", engine.ErrConnection, child.Name, target)
		}
		if _, ok := parent.Kind.DeclareConnections().Get(outName); !ok {
			return nil, fmt.Errorf("%w: step %q: parent %q has no output %q", engine.ErrConnection, child.Name, parentName, outName)
		}
		out = append(out, boundTarget{parentStep: parentName, outName: outName})
	}
	return out, nil
}

// BuildRunInputs enumerates, for each distinct run id found across
// child's bound parent connections, the absolute input paths bound to
// each in_name (spec.md §4.1 "the run builder then enumerates parent
// runs along bound connections"). Source kinds are skipped: they have
// no parents and declare their own runs unconditionally.
func BuildRunInputs(ctx context.Context, p *engine.Pipeline, child *engine.Instance) error {
	if child.Kind.IsSource() {
		return nil
	}

	bindings, err := Resolve(ctx, p, child)
	if err != nil {
		return err
	}

	byRun := make(map[string]map[string][]string)
	var runOrder []string
	seen := make(map[string]bool)

	addRunID := func(id string) {
		if !seen[id] {
			seen[id] = true
			runOrder = append(runOrder, id)
			byRun[id] = make(map[string][]string)
		}
	}

	inNames := make([]string, 0, len(bindings))
	for inName := range bindings {
		inNames = append(inNames, inName)
	}
	sort.Strings(inNames)

	for _, inName := range inNames {
		for _, t := range bindings[inName] {
			if t.empty {
				continue
			}
			parent, ok := p.Instance(t.parentStep)
			if !ok {
				return fmt.Errorf("%w: step %q: bound parent %q not found in pipeline", engine.ErrConnection, child.Name, t.parentStep)
			}
			parentRuns, err := parent.Runs(ctx)
			if err != nil {
				return err
			}
			for _, run := range parentRuns {
				addRunID(run.ID)
				files, ok := run.OutputFiles[t.outName]
				if !ok {
					continue
				}
				basenames := make([]string, 0, len(files))
				for basename := range files {
					basenames = append(basenames, basename)
				}
				sort.Strings(basenames)
				for _, basename := range basenames {
					abs := basename
					if !strings.HasPrefix(basename, "/") {
						abs = run.OutputDir() + "/" + basename
					}
					byRun[run.ID][inName] = append(byRun[run.ID][inName], abs)
					if err := p.ClaimOutputFile(abs, run.TaskID()); err != nil {
						return err
					}
				}
			}
		}
	}

	child.SetResolvedInputs(byRun, runOrder)
	return nil
}
