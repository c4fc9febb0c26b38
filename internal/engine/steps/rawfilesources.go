package steps

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/uap-go/uap/internal/engine"
)

func init() {
	engine.Register(rawFileSourcesKind{})
}

// rawFileSourcesKind is the legacy plural predecessor of
// raw_file_source: mandatory pattern+group, no sample_to_files_map
// alternative, and a paired_end flag recorded as public info.
type rawFileSourcesKind struct{}

func (rawFileSourcesKind) Name() string { return "raw_file_sources" }

func (rawFileSourcesKind) IsSource() bool { return true }

func (rawFileSourcesKind) RequiredTools() []string { return nil }

func (rawFileSourcesKind) DeclareConnections() *engine.ConnectionSet {
	cs := engine.NewConnectionSet()
	_ = cs.Add("out/raws", false, "", "")
	return cs
}

func (rawFileSourcesKind) DeclareOptions() []engine.OptionSpec {
	return []engine.OptionSpec{
		{Name: "pattern", Type: engine.OptionScalar, Description: "A glob, e.g. /home/test/fastq/Sample_*.fastq.gz"},
		{Name: "group", Type: engine.OptionScalar, Description: "This is a legacy step; prefer raw_file_source. Regex deriving the sample name from matched basenames."},
		{Name: "paired_end", Type: engine.OptionScalar, Description: "Whether the samples are paired end."},
		{Name: "sample_id_prefix", Type: engine.OptionScalar, Optional: true, Description: "Prepended to every derived sample name."},
	}
}

func (k rawFileSourcesKind) DeclareRuns(ctx context.Context, inst *engine.Instance) ([]*engine.Run, error) {
	pattern := inst.OptionString("pattern", "")
	group := inst.OptionString("group", "")
	regex, err := regexp.Compile(group)
	if err != nil {
		return nil, fmt.Errorf("%w: raw_file_sources %q: invalid group regex: %v", engine.ErrConfiguration, inst.Name, err)
	}
	abs, err := filepath.Abs(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: raw_file_sources %q: %v", engine.ErrConfiguration, inst.Name, err)
	}
	matches, err := doublestar.FilepathGlob(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: raw_file_sources %q: %v", engine.ErrConfiguration, inst.Name, err)
	}

	prefix := inst.OptionString("sample_id_prefix", "")
	foundFiles := make(map[string][]string)
	var runOrder []string
	for _, path := range matches {
		base := filepath.Base(path)
		m := regex.FindStringSubmatch(base)
		if m == nil {
			return nil, fmt.Errorf("%w: raw_file_sources %q: group regex did not match file %q", engine.ErrConfiguration, inst.Name, base)
		}
		sampleID := prefix
		for _, part := range m[1:] {
			if sampleID != "" {
				sampleID += "_"
			}
			sampleID += part
		}
		if _, ok := foundFiles[sampleID]; !ok {
			runOrder = append(runOrder, sampleID)
		}
		foundFiles[sampleID] = append(foundFiles[sampleID], path)
	}

	pairedEnd := inst.OptionBool("paired_end", false)
	runs := make([]*engine.Run, 0, len(runOrder))
	for _, runID := range runOrder {
		run := engine.NewRun(inst.Name, runID, inst.Destination)
		run.PublicInfo["paired_end"] = fmt.Sprintf("%v", pairedEnd)
		for _, path := range foundFiles[runID] {
			if err := run.AddSourceOutputFile("out/raws", path, nil); err != nil {
				return nil, err
			}
		}
		runs = append(runs, run)
	}
	return runs, nil
}
