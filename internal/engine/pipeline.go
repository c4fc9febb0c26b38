package engine

import (
	"fmt"
	"path/filepath"
)

// Pipeline is the process-wide arena of step instances: the top-level
// object a configuration loads into. It owns name resolution and the
// task_for_output_file index used to detect cross-run output
// collisions (spec.md §4.1, §9 "Cyclic or back-referencing data"). It
// keeps no file_dependencies table of output-to-input path edges; a
// run's inputs are found only in that run's own known_paths.
type Pipeline struct {
	Destination string

	instances map[string]*Instance
	order     []string

	// taskForOutputFile maps an absolute output path to the task id
	// ("<step>/<run>") that produced it, populated as runs are
	// declared. A path claimed twice is a configuration error.
	taskForOutputFile map[string]string
}

func NewPipeline(destination string) *Pipeline {
	return &Pipeline{
		Destination:       destination,
		instances:         make(map[string]*Instance),
		taskForOutputFile: make(map[string]string),
	}
}

// AddInstance registers a step instance under its configuration name.
// Names must be unique within a pipeline.
func (p *Pipeline) AddInstance(inst *Instance) error {
	if _, exists := p.instances[inst.Name]; exists {
		return fmt.Errorf("%w: duplicate step name %q", ErrConfiguration, inst.Name)
	}
	inst.Destination = filepath.Join(p.Destination, inst.Name)
	p.instances[inst.Name] = inst
	p.order = append(p.order, inst.Name)
	return nil
}

// Instance looks up a registered step instance by name.
func (p *Pipeline) Instance(name string) (*Instance, bool) {
	inst, ok := p.instances[name]
	return inst, ok
}

// Instances returns every registered step instance in declaration order.
func (p *Pipeline) Instances() []*Instance {
	out := make([]*Instance, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.instances[name])
	}
	return out
}

// ClaimOutputFile records that a run produced an absolute output path,
// failing if a different task already claimed it (spec.md Invariant 2:
// output basenames are unique within a step's output directory, which
// this generalizes to catch cross-run collisions on the same path).
func (p *Pipeline) ClaimOutputFile(absPath, taskID string) error {
	if existing, ok := p.taskForOutputFile[absPath]; ok && existing != taskID {
		return fmt.Errorf("%w: output path %q already produced by %s, cannot also be produced by %s", ErrConfiguration, absPath, existing, taskID)
	}
	p.taskForOutputFile[absPath] = taskID
	return nil
}

// TaskForOutputFile resolves the task id that produced an absolute
// output path, if any run in this pipeline has claimed it.
func (p *Pipeline) TaskForOutputFile(absPath string) (string, bool) {
	taskID, ok := p.taskForOutputFile[absPath]
	return taskID, ok
}
