// Package render draws a pipeline as a Graphviz DOT graph, at step
// granularity (--steps) or run/file granularity (--files), for the
// render CLI subcommand (spec.md §6). DOT is plain text with no binary
// framing, so this stays on the standard library: no library in the
// retrieval pack targets Graphviz.
package render

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/uap-go/uap/internal/engine"
)

// Orientation is DOT's rankdir attribute.
type Orientation string

const (
	TopToBottom Orientation = "TB"
	LeftToRight Orientation = "LR"
	RightToLeft Orientation = "RL"
)

// Options configures one render call.
type Options struct {
	Orientation Orientation
	Simple      bool // omit option/tool detail, step/run names only
}

// Steps renders the step-level DAG: one node per step instance, one
// edge per _depends/connection-implied parent edge.
func Steps(p *engine.Pipeline, opts Options) string {
	var b strings.Builder
	writeHeader(&b, opts)
	for _, inst := range p.Instances() {
		label := inst.Name
		if !opts.Simple {
			label = fmt.Sprintf("%s\\n(%s)", inst.Name, inst.Kind.Name())
		}
		fmt.Fprintf(&b, "  %q [label=%q];\n", inst.Name, label)
	}
	for _, inst := range p.Instances() {
		for _, parent := range inst.Parents {
			fmt.Fprintf(&b, "  %q -> %q;\n", parent.Name, inst.Name)
		}
	}
	b.WriteString("}\n")
	return b.String()
}

// Files renders the run-level DAG: one node per declared run, and an
// edge from the task that produced each of a run's input known_paths
// (looked up with Pipeline.TaskForOutputFile) to that run.
// Requires every instance's runs to already be declared (scheduler.DeclareAll).
func Files(ctx context.Context, p *engine.Pipeline, opts Options) (string, error) {
	var b strings.Builder
	writeHeader(&b, opts)

	var taskIDs []string
	taskLabel := make(map[string]string)
	for _, inst := range p.Instances() {
		runs, err := inst.Runs(ctx)
		if err != nil {
			return "", err
		}
		for _, r := range runs {
			id := r.TaskID()
			taskIDs = append(taskIDs, id)
			label := id
			if opts.Simple {
				label = r.ID
			}
			taskLabel[id] = label
		}
	}
	sort.Strings(taskIDs)
	for _, id := range taskIDs {
		fmt.Fprintf(&b, "  %q [label=%q, shape=box];\n", id, taskLabel[id])
	}

	edges := make(map[[2]string]bool)
	for _, inst := range p.Instances() {
		runs, _ := inst.Runs(ctx)
		for _, r := range runs {
			childID := r.TaskID()
			for absPath, info := range r.KnownPaths {
				if info.Designation != engine.DesignationInput {
					continue
				}
				if parentTask, ok := p.TaskForOutputFile(absPath); ok {
					edges[[2]string{parentTask, childID}] = true
				}
			}
		}
	}
	var edgeKeys [][2]string
	for e := range edges {
		edgeKeys = append(edgeKeys, e)
	}
	sort.Slice(edgeKeys, func(i, j int) bool {
		if edgeKeys[i][0] != edgeKeys[j][0] {
			return edgeKeys[i][0] < edgeKeys[j][0]
		}
		return edgeKeys[i][1] < edgeKeys[j][1]
	})
	for _, e := range edgeKeys {
		fmt.Fprintf(&b, "  %q -> %q;\n", e[0], e[1])
	}

	b.WriteString("}\n")
	return b.String(), nil
}

func writeHeader(b *strings.Builder, opts Options) {
	orientation := opts.Orientation
	if orientation == "" {
		orientation = TopToBottom
	}
	b.WriteString("digraph pipeline {\n")
	fmt.Fprintf(b, "  rankdir=%s;\n", orientation)
}
