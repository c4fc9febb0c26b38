// Package cluster is the cluster dispatch adapter of spec.md §4.7: for
// a run the DAG driver decides not to execute locally, it writes a
// submit script that re-enters run-locally for that one task, invokes
// the site's cluster submit command, and records the returned job id
// in the run's queued-ping file.
package cluster

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/uap-go/uap/internal/backoff"
	"github.com/uap-go/uap/internal/engine"
	"github.com/uap-go/uap/internal/engine/heartbeat"
)

// SubmitOptions configures one cluster, read from the top-level cluster
// config. Per-step overrides (_cluster_submit_options,
// _cluster_pre_job_command, _cluster_post_job_command) are supplied
// separately to Submit, since one Adapter serves every step targeting
// this cluster.
type SubmitOptions struct {
	Name          string // cluster name, matched against --cluster
	SubmitCommand string // e.g. "sbatch", "qsub"
	SubmitArgs    []string
	// ExtraRunArgs are appended to the re-entered "run-locally" command,
	// e.g. "--force" or "--no-tool-checks", so the submitted job sees the
	// same flags the submit-to-cluster invocation was given.
	ExtraRunArgs []string
	// ExtractJobID parses the submit command's stdout into a job id.
	// Defaults to TrimSpace of the full output.
	ExtractJobID func(stdout string) (string, error)
}

// Adapter submits runs to one configured cluster.
type Adapter struct {
	Options    SubmitOptions
	BinaryPath string // this binary, for re-entering "run-locally"
}

// New builds an Adapter, defaulting ExtractJobID to a whole-output trim.
func New(opts SubmitOptions, binaryPath string) *Adapter {
	if opts.ExtractJobID == nil {
		opts.ExtractJobID = func(stdout string) (string, error) {
			id := strings.TrimSpace(stdout)
			if id == "" {
				return "", fmt.Errorf("%w: submit command produced no job id", engine.ErrEnvironment)
			}
			return id, nil
		}
	}
	return &Adapter{Options: opts, BinaryPath: binaryPath}
}

// SubmitScriptPath returns "<output_dir>/.submit-<run_id>.sh".
func SubmitScriptPath(run *engine.Run) string {
	return filepath.Join(run.OutputDir(), fmt.Sprintf(".submit-%s.sh", run.ID))
}

// Submit writes the submit script (see renderScript: it captures the
// argv that re-enters run-locally for this task, not the environment),
// invokes the cluster's submit command, and records the returned job id
// in the run's queued ping.
// inst supplies this step's _cluster_submit_options/_cluster_pre_job_command/
// _cluster_post_job_command overrides.
func (a *Adapter) Submit(ctx context.Context, run *engine.Run, inst *engine.Instance) (string, error) {
	scriptPath := SubmitScriptPath(run)
	script := a.renderScript(run, inst)
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		return "", fmt.Errorf("%w: writing submit script %s: %v", engine.ErrEnvironment, scriptPath, err)
	}

	args := append(append([]string{}, a.Options.SubmitArgs...), inst.ClusterSubmitOptions...)
	args = append(args, scriptPath)
	cmd := exec.CommandContext(ctx, a.Options.SubmitCommand, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: cluster submit command failed: %v: %s", engine.ErrEnvironment, err, stderr.String())
	}

	jobID, err := a.Options.ExtractJobID(stdout.String())
	if err != nil {
		return "", err
	}

	if err := heartbeat.WriteQueuedPing(run.QueuedPingPath(), heartbeat.QueuedPing{
		ClusterJobID: jobID,
		WrittenAt:    time.Now(),
	}); err != nil {
		return "", err
	}
	return jobID, nil
}

// renderScript builds a shell script that re-enters "run-locally" for
// exactly this run. The script holds the pre-job command, the quoted
// argv and the post-job command; it writes out no environment
// variables, so the job runs with whatever environment the cluster
// gives it.
func (a *Adapter) renderScript(run *engine.Run, inst *engine.Instance) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("# generated by the cluster submit adapter; do not edit by hand\n")
	if inst.ClusterPreJobCommand != "" {
		b.WriteString(inst.ClusterPreJobCommand + "\n")
	}
	argv := []string{a.BinaryPath, "run-locally", "--step", inst.Name, "--run", run.ID}
	argv = append(argv, a.Options.ExtraRunArgs...)
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}
	b.WriteString("exec " + strings.Join(quoted, " ") + "\n")
	if inst.ClusterPostJobCommand != "" {
		b.WriteString(inst.ClusterPostJobCommand + "\n")
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// IsPendingViaCommand builds the isPending predicate PollJobID needs
// from a site's job-status command (e.g. "squeue -h -j", "qstat -j"):
// the command is invoked with pollArgs plus the job id appended, and
// its exit status determines whether the job is still in the pending
// queue. Exit 0 means still pending; any other exit means it has left
// the queue (completed, failed, or purged from the scheduler's view).
func IsPendingViaCommand(pollCommand string, pollArgs []string) func(string) (bool, error) {
	return func(jobID string) (bool, error) {
		args := append(append([]string{}, pollArgs...), jobID)
		cmd := exec.Command(pollCommand, args...)
		err := cmd.Run()
		if err == nil {
			return true, nil
		}
		if _, ok := err.(*exec.ExitError); ok {
			return false, nil
		}
		return false, fmt.Errorf("%w: running poll command %s: %v", engine.ErrEnvironment, pollCommand, err)
	}
}

// PollJobID waits, using policy, for a condition function to report the
// submitted job has left the cluster's pending queue (site-specific;
// the caller supplies isPending). This is the one place cluster polling
// uses internal/backoff directly rather than heartbeat's fixed-interval
// renewal, since submit-queue wait times are far less predictable than
// a local process's liveness.
func PollJobID(ctx context.Context, jobID string, isPending func(string) (bool, error), policy backoff.RetryPolicy) error {
	retrier := backoff.NewRetrier(policy)
	for {
		pending, err := isPending(jobID)
		if err != nil {
			return err
		}
		if !pending {
			return nil
		}
		if err := retrier.Next(ctx, nil); err != nil {
			return fmt.Errorf("%w: job %s still pending: %v", engine.ErrEnvironment, jobID, err)
		}
	}
}
