// Package annotate writes the per-run YAML annotation artifact
// capturing everything spec.md §4.4 step 7 requires for a finished (or
// failed) run: identity, timings, the process-watcher table, every
// process launched, the known_paths table, and any error text.
package annotate

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/google/uuid"

	"github.com/uap-go/uap/internal/engine"
	"github.com/uap-go/uap/internal/engine/procpool"
)

// ProcessRecord captures one launched process/pipeline for the
// annotation (spec.md §4.4 step 7 "all processes: argv, pid, start/end
// time, exit code or signal, per-stream byte/line counts").
type ProcessRecord struct {
	Label       string    `yaml:"label"`
	Argv        [][]string `yaml:"argv"`
	ExitCodes   []int     `yaml:"exit_codes"`
	Signalled   bool      `yaml:"signalled"`
	Signal      string    `yaml:"signal,omitempty"`
	StartedAt   time.Time  `yaml:"started_at"`
	FinishedAt  time.Time  `yaml:"finished_at"`
	StdoutBytes int64     `yaml:"stdout_bytes"`
	StdoutLines int       `yaml:"stdout_lines"`
	StderrBytes int64     `yaml:"stderr_bytes"`
	StderrLines int       `yaml:"stderr_lines"`
}

// KnownPathRecord mirrors one entry of Run.KnownPaths.
type KnownPathRecord struct {
	Designation string     `yaml:"designation"`
	Label       string     `yaml:"label"`
	Type        string     `yaml:"type,omitempty"`
	Size        *int64     `yaml:"size,omitempty"`
	ModTime     *time.Time `yaml:"mtime,omitempty"`
	SHA256      string     `yaml:"sha256,omitempty"`
	RealPath    string     `yaml:"real_path,omitempty"`
}

// Annotation is the full document written to
// "<output_dir>/.<run_id>.annotation.yaml".
type Annotation struct {
	AttemptID    string                     `yaml:"attempt_id"`
	StepName     string                     `yaml:"step_name"`
	StepKind     string                     `yaml:"step_kind"`
	RunID        string                     `yaml:"run_id"`
	StartTime    time.Time                  `yaml:"start_time"`
	EndTime      time.Time                  `yaml:"end_time"`
	Host         string                     `yaml:"host"`
	ClusterJobID string                     `yaml:"cluster_job_id,omitempty"`
	// CaughtSignal is the name of the signal (SIGTERM, SIGINT) that
	// cancelled this run, if any (spec.md §4.4 step 7, §5, E2E-4).
	CaughtSignal string                     `yaml:"caught_signal,omitempty"`

	MaxCPUPercent    float64 `yaml:"max_cpu_percent"`
	MaxRSSBytes      uint64  `yaml:"max_rss_bytes"`
	MaxMemoryPercent float32 `yaml:"max_memory_percent"`

	Processes  []ProcessRecord            `yaml:"processes"`
	KnownPaths map[string]KnownPathRecord `yaml:"known_paths"`

	Error string `yaml:"error,omitempty"`
}

// FromRun assembles an Annotation from a finished run's known_paths,
// the supplied group results, and outer timing/identity facts.
// caughtSignal is the name of the signal that cancelled the run, if any.
func FromRun(r *engine.Run, kindName, host string, start, end time.Time, clusterJobID, caughtSignal string, groups []procpool.GroupResult, runErr error) Annotation {
	attemptID, err := uuid.NewRandom()
	if err != nil {
		attemptID = uuid.Nil
	}
	a := Annotation{
		AttemptID:    attemptID.String(),
		StepName:     r.StepName,
		StepKind:     kindName,
		RunID:        r.ID,
		StartTime:    start,
		EndTime:      end,
		Host:         host,
		ClusterJobID: clusterJobID,
		CaughtSignal: caughtSignal,
		KnownPaths:   make(map[string]KnownPathRecord, len(r.KnownPaths)),
	}

	var sum procpool.ProcessStats
	for _, g := range groups {
		sum.MaxCPUPercent += g.Sum.MaxCPUPercent
		if g.Sum.MaxRSSBytes > sum.MaxRSSBytes {
			sum.MaxRSSBytes = g.Sum.MaxRSSBytes
		}
		if g.Sum.MaxMemoryPercent > sum.MaxMemoryPercent {
			sum.MaxMemoryPercent = g.Sum.MaxMemoryPercent
		}
		for _, m := range g.Members {
			a.Processes = append(a.Processes, ProcessRecord{
				Label: m.Label, Argv: m.Argv, ExitCodes: m.ExitCodes,
				Signalled: m.Signalled, Signal: m.Signal,
				StartedAt: m.StartedAt, FinishedAt: m.FinishedAt,
				StdoutBytes: m.Stats.StdoutBytes, StdoutLines: m.Stats.StdoutLines,
				StderrBytes: m.Stats.StderrBytes, StderrLines: m.Stats.StderrLines,
			})
		}
	}
	a.MaxCPUPercent = sum.MaxCPUPercent
	a.MaxRSSBytes = sum.MaxRSSBytes
	a.MaxMemoryPercent = sum.MaxMemoryPercent

	for path, info := range r.KnownPaths {
		rec := KnownPathRecord{Label: info.Label, Type: info.Type, SHA256: info.SHA256, RealPath: info.RealPath}
		if info.Designation == engine.DesignationInput {
			rec.Designation = "input"
		} else {
			rec.Designation = "output"
		}
		if info.SizeSet {
			sz := info.Size
			rec.Size = &sz
		}
		if info.ModTimeSet {
			mt := info.ModTime
			rec.ModTime = &mt
		}
		a.KnownPaths[path] = rec
	}

	if runErr != nil {
		a.Error = runErr.Error()
	}
	return a
}

// Write serializes an into path, truncating any existing file.
func Write(path string, a Annotation) error {
	data, err := yaml.Marshal(a)
	if err != nil {
		return fmt.Errorf("%w: marshaling annotation: %v", engine.ErrIntegrity, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: writing annotation %s: %v", engine.ErrIntegrity, path, err)
	}
	return nil
}

// Read loads an existing annotation, used by the DAG driver and status
// reporting to determine FINISHED state (spec.md §4.5).
func Read(path string) (Annotation, bool, error) {
	var a Annotation
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return a, false, nil
	}
	if err != nil {
		return a, false, fmt.Errorf("%w: reading annotation %s: %v", engine.ErrIntegrity, path, err)
	}
	if err := yaml.Unmarshal(data, &a); err != nil {
		return a, false, fmt.Errorf("%w: parsing annotation %s: %v", engine.ErrIntegrity, path, err)
	}
	return a, true, nil
}
