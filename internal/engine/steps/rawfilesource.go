// Package steps implements the built-in step kinds registered with
// internal/engine at process start. Each kind's DeclareRuns mirrors the
// semantics of its original_source/ counterpart in include/sources and
// include/steps, adapted to the Go Kind interface.
package steps

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/uap-go/uap/internal/engine"
)

func init() {
	engine.Register(rawFileSourceKind{})
}

type rawFileSourceKind struct{}

func (rawFileSourceKind) Name() string { return "raw_file_source" }

func (rawFileSourceKind) IsSource() bool { return true }

func (rawFileSourceKind) RequiredTools() []string { return nil }

func (rawFileSourceKind) DeclareConnections() *engine.ConnectionSet {
	cs := engine.NewConnectionSet()
	_ = cs.Add("out/raw", false, "", "")
	return cs
}

func (rawFileSourceKind) DeclareOptions() []engine.OptionSpec {
	return []engine.OptionSpec{
		{Name: "pattern", Type: engine.OptionScalar, Optional: true, Description: "A glob, e.g. /home/test/fastq/Sample_*.fastq.gz"},
		{Name: "group", Type: engine.OptionScalar, Optional: true, Description: "A regex applied to matched basenames to derive the sample name; capture groups join with '_'."},
		{Name: "sample_id_prefix", Type: engine.OptionScalar, Optional: true, Description: "Prepended to every derived sample name."},
		{Name: "sample_to_files_map", Type: engine.OptionMapping, Optional: true, Description: "Explicit run_id -> [file paths] listing, used instead of pattern/group."},
	}
}

// DeclareRuns mirrors raw_file_source.py: either (pattern, group) glob
// matching with sample-name derivation, or an explicit
// sample_to_files_map, but not both.
func (k rawFileSourceKind) DeclareRuns(ctx context.Context, inst *engine.Instance) ([]*engine.Run, error) {
	pat, hasPattern := inst.OptionRaw("pattern")
	grp, hasGroup := inst.OptionRaw("group")
	mapping, hasMap := inst.OptionRaw("sample_to_files_map")
	// engineconfig fills unset optional options with their nil default,
	// so only a non-nil value counts as set.
	hasPattern = hasPattern && pat != nil
	hasGroup = hasGroup && grp != nil
	hasMap = hasMap && mapping != nil
	if hasPattern && hasGroup && hasMap {
		return nil, fmt.Errorf("%w: raw_file_source %q: set either (pattern and group) or sample_to_files_map, not both", engine.ErrConfiguration, inst.Name)
	}

	foundFiles := make(map[string][]string)
	var runOrder []string
	addFile := func(runID, path string) {
		if _, ok := foundFiles[runID]; !ok {
			runOrder = append(runOrder, runID)
		}
		foundFiles[runID] = append(foundFiles[runID], path)
	}

	switch {
	case hasPattern && hasGroup:
		pattern := inst.OptionString("pattern", "")
		group := inst.OptionString("group", "")
		regex, err := regexp.Compile(group)
		if err != nil {
			return nil, fmt.Errorf("%w: raw_file_source %q: invalid group regex: %v", engine.ErrConfiguration, inst.Name, err)
		}
		abs, err := filepath.Abs(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: raw_file_source %q: %v", engine.ErrConfiguration, inst.Name, err)
		}
		matches, err := doublestar.FilepathGlob(abs)
		if err != nil {
			return nil, fmt.Errorf("%w: raw_file_source %q: %v", engine.ErrConfiguration, inst.Name, err)
		}
		prefix := inst.OptionString("sample_id_prefix", "")
		for _, path := range matches {
			base := filepath.Base(path)
			m := regex.FindStringSubmatch(base)
			if m == nil {
				return nil, fmt.Errorf("%w: raw_file_source %q: group regex did not match file %q", engine.ErrConfiguration, inst.Name, base)
			}
			sampleID := prefix
			for _, part := range m[1:] {
				if sampleID != "" {
					sampleID += "_"
				}
				sampleID += part
			}
			addFile(sampleID, path)
		}
	case hasMap:
		raw, ok := mapping.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: raw_file_source %q: sample_to_files_map must be a mapping", engine.ErrConfiguration, inst.Name)
		}
		runIDs := make([]string, 0, len(raw))
		for runID := range raw {
			runIDs = append(runIDs, runID)
		}
		sort.Strings(runIDs)
		for _, runID := range runIDs {
			paths, ok := raw[runID].([]any)
			if !ok {
				return nil, fmt.Errorf("%w: raw_file_source %q: sample_to_files_map[%s] must be a list", engine.ErrConfiguration, inst.Name, runID)
			}
			for _, p := range paths {
				path, ok := p.(string)
				if !ok {
					continue
				}
				addFile(runID, path)
			}
		}
	default:
		return nil, fmt.Errorf("%w: raw_file_source %q: either (pattern and group) or sample_to_files_map must be set", engine.ErrConfiguration, inst.Name)
	}

	runs := make([]*engine.Run, 0, len(runOrder))
	for _, runID := range runOrder {
		run := engine.NewRun(inst.Name, runID, inst.Destination)
		for _, path := range foundFiles[runID] {
			if err := run.AddSourceOutputFile("out/raw", path, nil); err != nil {
				return nil, err
			}
		}
		runs = append(runs, run)
	}
	return runs, nil
}
