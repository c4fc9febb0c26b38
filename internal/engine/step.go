package engine

import "context"

// Tool is a resolved external executable a step kind requires, bound
// against the configuration's tools table (spec.md §4.2 require_tool).
type Tool struct {
	Name          string
	Path          string
	PreCommand    string
	PostCommand   string
	ModuleLoad    string
	ModuleUnload  string
}

// Kind is a named, registered step module: a set of typed options, typed
// connections, required tools, and the factory that
// produces runs from bound parent connections. Concrete step kinds
// (internal/engine/steps) implement this; the compile-time registry
// (Register) replaces the original's directory-scanning introspection
// (spec.md §9 "Dynamic step discovery").
type Kind interface {
	// Name is the registered step kind name, e.g. "raw_file_source".
	Name() string

	// DeclareOptions returns this kind's option specs.
	DeclareOptions() []OptionSpec

	// DeclareConnections returns this kind's connection specs.
	DeclareConnections() *ConnectionSet

	// RequiredTools lists the external executable names this kind needs.
	RequiredTools() []string

	// IsSource reports whether this kind never consumes a dependency
	// closure of parent runs (spec.md §9 "Polymorphism": AbstractStep vs
	// AbstractSourceStep collapse into one trait with IsSource()).
	IsSource() bool

	// DeclareRuns produces this step's runs from its options and bound
	// input files. Called at most once per step instance (Lifecycle,
	// spec.md §3).
	DeclareRuns(ctx context.Context, inst *Instance) ([]*Run, error)
}

// Instance is a step kind bound to a configuration entry: user options
// merged with declared defaults, resolved tool paths, resolved parent
// instances in dependency order, and a cached run table.
type Instance struct {
	Name    string // step name in configuration; defaults to Kind.Name() but may be aliased
	Kind    Kind
	Options map[string]any
	Tools   map[string]Tool

	// Destination is "<pipeline destination>/<step name>", set by
	// Pipeline.AddInstance. Runs declared for this instance use it as
	// their OutputDir.
	Destination string

	// Parents are the resolved parent step instances, in the order
	// _depends names them. A _connect target must name one of them.
	Parents []*Instance

	// Connect is the user-declared _connect binding map, in_name ->
	// targets, as authored in configuration.
	Connect map[string][]string

	// Break, if true, short-circuits DeclareRuns to an empty set,
	// pruning the subtree (spec.md §4.2 _BREAK).
	Break bool

	// Volatile marks this instance's outputs eligible for replacement by
	// placeholders (spec.md §4.6).
	Volatile bool

	// ClusterSubmitOptions are extra arguments appended to the cluster's
	// submit command for this step's jobs only (_cluster_submit_options).
	ClusterSubmitOptions []string

	// ClusterPreJobCommand and ClusterPostJobCommand run inside the
	// generated submit script, before and after the re-entrant
	// run-locally invocation (_cluster_pre_job_command,
	// _cluster_post_job_command).
	ClusterPreJobCommand  string
	ClusterPostJobCommand string

	runs      map[string]*Run
	runOrder  []string
	finalized bool

	// ResolvedInputs is populated by internal/engine/builder before
	// DeclareRuns is called: run_id -> in_name -> absolute input paths
	// bound from parent outputs (spec.md §4.1). Source kinds (IsSource)
	// never have this populated since they have no parents to bind.
	ResolvedInputs map[string]map[string][]string

	// InputRunIDs lists the distinct run ids discovered across this
	// instance's bound parent connections, in first-seen order.
	InputRunIDs []string
}

// SetResolvedInputs attaches the builder's connection-binding result to
// this instance ahead of DeclareRuns.
func (inst *Instance) SetResolvedInputs(byRun map[string]map[string][]string, runOrder []string) {
	inst.ResolvedInputs = byRun
	inst.InputRunIDs = runOrder
}

// InputPaths returns the absolute paths bound to in_name for the given
// run id, or nil if none were bound.
func (inst *Instance) InputPaths(runID, inName string) []string {
	byName, ok := inst.ResolvedInputs[runID]
	if !ok {
		return nil
	}
	return byName[inName]
}

// Runs returns the cached run_id -> Run map, declaring runs on first
// access (Lifecycle, spec.md §3: "materialized by declare_runs on first
// demand").
func (inst *Instance) Runs(ctx context.Context) ([]*Run, error) {
	if inst.finalized {
		out := make([]*Run, 0, len(inst.runOrder))
		for _, id := range inst.runOrder {
			out = append(out, inst.runs[id])
		}
		return out, nil
	}

	var runs []*Run
	if inst.Break {
		runs = nil
	} else {
		var err error
		runs, err = inst.Kind.DeclareRuns(ctx, inst)
		if err != nil {
			return nil, err
		}
	}

	inst.runs = make(map[string]*Run, len(runs))
	inst.runOrder = make([]string, 0, len(runs))
	for _, r := range runs {
		inst.runs[r.ID] = r
		inst.runOrder = append(inst.runOrder, r.ID)
	}
	inst.finalized = true
	return runs, nil
}

// Run looks up a single run by id, declaring runs if not already done.
func (inst *Instance) Run(ctx context.Context, runID string) (*Run, bool, error) {
	if _, err := inst.Runs(ctx); err != nil {
		return nil, false, err
	}
	r, ok := inst.runs[runID]
	return r, ok, nil
}

// OptionRaw returns an option's value as stored and whether the key is
// present. OptionString and OptionBool return the value when it has the
// requested type, and the caller's fallback otherwise.
func (inst *Instance) OptionRaw(name string) (any, bool) {
	v, ok := inst.Options[name]
	return v, ok
}

func (inst *Instance) OptionString(name string, fallback string) string {
	if v, ok := inst.Options[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

func (inst *Instance) OptionBool(name string, fallback bool) bool {
	if v, ok := inst.Options[name]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return fallback
}

// ToolPath resolves a required tool's executable path, falling back to
// its bare name if the instance has no resolved tool table (e.g.
// "no tool checks" mode).
func (inst *Instance) ToolPath(name string) string {
	if t, ok := inst.Tools[name]; ok && t.Path != "" {
		return t.Path
	}
	return name
}

func (inst *Instance) OptionStringSlice(name string) []string {
	v, ok := inst.Options[name]
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
