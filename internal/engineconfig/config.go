// Package engineconfig loads the top-level YAML configuration —
// destination_path, the tools table, and the steps table — and wires it
// into a runnable engine.Pipeline: step kinds looked up from the
// registry, options type-checked, tools resolved, and parent instances
// linked from _depends.
package engineconfig

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/uap-go/uap/internal/engine"
)

// StepConfig is one entry of the steps table as parsed from YAML,
// before its options are split from engine-reserved keys.
type StepConfig struct {
	Kind string         // _step: registered Kind name; defaults to the map key
	Raw  map[string]any `yaml:",inline"`
}

// ToolConfig is one entry of the top-level tools table.
type ToolConfig struct {
	Path         string `yaml:"path"`
	PreCommand   string `yaml:"pre_command"`
	PostCommand  string `yaml:"post_command"`
	ModuleLoad   string `yaml:"module_load"`
	ModuleUnload string `yaml:"module_unload"`
}

// ClusterConfig is one entry of the top-level clusters table, read by
// the submit-to-cluster command. PollCommand is optional: when set, the
// submit command waits for the submitted job to leave the cluster's
// pending queue before reporting success, by repeatedly invoking
// PollCommand with PollArgs plus the job id appended (exit 0 means the
// job is still pending; any other exit code means it has left the
// queue). Leaving it empty skips polling entirely.
type ClusterConfig struct {
	SubmitCommand string        `yaml:"submit_command"`
	SubmitArgs    []string      `yaml:"submit_args"`
	PollCommand   string        `yaml:"poll_command"`
	PollArgs      []string      `yaml:"poll_args"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

// Document is the raw parsed shape of the configuration file.
type Document struct {
	DestinationPath string                    `yaml:"destination_path"`
	Tools           map[string]ToolConfig      `yaml:"tools"`
	Clusters        map[string]ClusterConfig   `yaml:"clusters"`
	Steps           yaml.MapSlice              `yaml:"steps"`
}

// NoToolChecks, when true, lets Load proceed without a tools table entry
// for a step kind's required tools, falling back to the bare tool name
// at resolution time (spec.md §4.2 "no tool checks" mode).
type LoadOptions struct {
	NoToolChecks bool
}

// Load parses path and builds a fully-wired engine.Pipeline: every step
// instance constructed, options validated, tools resolved, and parent
// instances linked in _depends order.
func Load(path string, opts LoadOptions) (*engine.Pipeline, *Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading %s: %v", engine.ErrConfiguration, path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: parsing %s: %v", engine.ErrConfiguration, path, err)
	}
	if doc.DestinationPath == "" {
		return nil, nil, fmt.Errorf("%w: destination_path is required", engine.ErrConfiguration)
	}

	p := engine.NewPipeline(doc.DestinationPath)

	order := make([]string, 0, len(doc.Steps))
	raws := make(map[string]map[string]any, len(doc.Steps))
	for _, item := range doc.Steps {
		name, ok := item.Key.(string)
		if !ok {
			return nil, nil, fmt.Errorf("%w: step table key %v is not a string", engine.ErrConfiguration, item.Key)
		}
		fields, ok := item.Value.(map[string]any)
		if !ok {
			return nil, nil, fmt.Errorf("%w: step %q is not a mapping", engine.ErrConfiguration, name)
		}
		order = append(order, name)
		raws[name] = fields
	}

	instances := make(map[string]*engine.Instance, len(order))
	for _, name := range order {
		inst, err := buildInstance(name, raws[name], doc.Tools, opts)
		if err != nil {
			return nil, nil, err
		}
		instances[name] = inst
	}

	for _, name := range order {
		fields := raws[name]
		inst := instances[name]
		for _, depName := range stringSlice(fields["_depends"]) {
			parent, ok := instances[depName]
			if !ok {
				return nil, nil, fmt.Errorf("%w: step %q depends on unknown step %q", engine.ErrConfiguration, name, depName)
			}
			inst.Parents = append(inst.Parents, parent)
		}
		if err := p.AddInstance(inst); err != nil {
			return nil, nil, err
		}
	}

	return p, &doc, nil
}

// buildInstance separates engine-reserved keys from typed options,
// validates the options against the kind's declared specs, and
// resolves required tools.
func buildInstance(name string, fields map[string]any, tools map[string]ToolConfig, opts LoadOptions) (*engine.Instance, error) {
	kindName := name
	if s, ok := fields["_step"].(string); ok && s != "" {
		kindName = s
	}
	kind, err := engine.MustLookup(kindName)
	if err != nil {
		return nil, err
	}

	options := make(map[string]any)
	for key, value := range fields {
		if key == "_step" {
			continue
		}
		if len(key) > 0 && key[0] == '_' {
			if !engine.IsReservedKey(key) {
				return nil, fmt.Errorf("%w: step %q uses unrecognized engine key %q", engine.ErrConfiguration, name, key)
			}
			continue
		}
		options[key] = value
	}

	specs := kind.DeclareOptions()
	for _, spec := range specs {
		value, present := options[spec.Name]
		if !present {
			if spec.Optional {
				options[spec.Name] = spec.Default
				continue
			}
			return nil, fmt.Errorf("%w: step %q missing required option %q", engine.ErrConfiguration, name, spec.Name)
		}
		if err := engine.ValidateOptionValue(spec, value); err != nil {
			return nil, fmt.Errorf("step %q: %w", name, err)
		}
	}

	resolvedTools := make(map[string]engine.Tool)
	for _, toolName := range kind.RequiredTools() {
		tc, ok := tools[toolName]
		if !ok {
			if opts.NoToolChecks {
				continue
			}
			return nil, fmt.Errorf("%w: step %q requires tool %q, not declared in tools table", engine.ErrConfiguration, name, toolName)
		}
		resolvedTools[toolName] = engine.Tool{
			Name: toolName, Path: tc.Path,
			PreCommand: tc.PreCommand, PostCommand: tc.PostCommand,
			ModuleLoad: tc.ModuleLoad, ModuleUnload: tc.ModuleUnload,
		}
	}

	// _connect keys are normalized to their local name (stripping an
	// optional "in/" prefix) so both "_connect: {raw: [...]}" and the
	// data model's natural "_connect: {in/raw: [...]}" resolve the same
	// way builder.Resolve looks them up, by ConnectionSpec.LocalName().
	connect := make(map[string][]string)
	if raw, ok := fields["_connect"].(map[string]any); ok {
		for inName, targets := range raw {
			connect[engine.StripConnectionPrefix(inName)] = stringSlice(targets)
		}
	}

	inst := &engine.Instance{
		Name:                  name,
		Kind:                  kind,
		Options:               options,
		Tools:                 resolvedTools,
		Connect:               connect,
		Break:                 boolField(fields["_BREAK"]),
		Volatile:              boolField(fields["_volatile"]),
		ClusterSubmitOptions:  stringSlice(fields["_cluster_submit_options"]),
		ClusterPreJobCommand:  stringField(fields["_cluster_pre_job_command"]),
		ClusterPostJobCommand: stringField(fields["_cluster_post_job_command"]),
	}
	return inst, nil
}

// stringField coerces a raw YAML scalar to a string, or "" if absent.
func stringField(v any) string {
	s, _ := v.(string)
	return s
}

// ClusterJobQuota reads _cluster_job_quota for a step's raw fields,
// returning 0 (no per-step quota; the scheduler's default applies) when
// absent.
func ClusterJobQuota(fields map[string]any) int {
	switch v := fields["_cluster_job_quota"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return vv
	case string:
		return []string{vv}
	default:
		return nil
	}
}

func boolField(v any) bool {
	b, _ := v.(bool)
	return b
}
