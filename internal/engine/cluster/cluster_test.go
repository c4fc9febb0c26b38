package cluster

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uap-go/uap/internal/backoff"
	"github.com/uap-go/uap/internal/engine"
	"github.com/uap-go/uap/internal/engine/heartbeat"
)

func newTestRun(t *testing.T) *engine.Run {
	t.Helper()
	dir := t.TempDir()
	r := engine.NewRun("align", "s1", dir)
	require.NoError(t, os.MkdirAll(r.OutputDir(), 0o755))
	return r
}

// fakeSubmitCommand writes a small shell script standing in for the
// cluster's real submit binary: it echoes a fixed job id to stdout.
func fakeSubmitCommand(t *testing.T, jobID string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-sbatch.sh")
	script := "#!/bin/sh\necho " + jobID + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestSubmitScriptPath(t *testing.T) {
	r := newTestRun(t)
	got := SubmitScriptPath(r)
	assert.Equal(t, filepath.Join(r.OutputDir(), ".submit-s1.sh"), got)
}

func TestRenderScript_IncludesPrePostAndStepName(t *testing.T) {
	r := newTestRun(t)
	a := New(SubmitOptions{Name: "slurm", SubmitCommand: "sbatch", ExtraRunArgs: []string{"--force"}}, "/opt/uap/bin/uap")
	inst := &engine.Instance{
		Name:                  "align",
		ClusterPreJobCommand:  "module load samtools",
		ClusterPostJobCommand: "rm -f /tmp/scratch",
	}

	script := a.renderScript(r, inst)
	assert.Contains(t, script, "#!/bin/sh\n")
	assert.Contains(t, script, "module load samtools\n")
	assert.Contains(t, script, "rm -f /tmp/scratch\n")
	assert.Contains(t, script, "run-locally")
	assert.Contains(t, script, "'--step' 'align' '--run' 's1'")
	assert.Contains(t, script, "'--force'")
}

func TestRenderScript_OmitsEmptyPrePost(t *testing.T) {
	r := newTestRun(t)
	a := New(SubmitOptions{SubmitCommand: "sbatch"}, "/opt/uap/bin/uap")
	inst := &engine.Instance{Name: "align"}

	script := a.renderScript(r, inst)
	assert.NotContains(t, script, "module load")
}

func TestShellQuote_EscapesSingleQuotes(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
	assert.Equal(t, "'plain'", shellQuote("plain"))
}

func TestSubmit_WritesScriptAndQueuedPing(t *testing.T) {
	r := newTestRun(t)
	submitBin := fakeSubmitCommand(t, "JOB-42")
	a := New(SubmitOptions{Name: "slurm", SubmitCommand: submitBin}, "/opt/uap/bin/uap")
	inst := &engine.Instance{Name: "align", ClusterSubmitOptions: []string{"--mem=8G"}}

	jobID, err := a.Submit(context.Background(), r, inst)
	require.NoError(t, err)
	assert.Equal(t, "JOB-42", jobID)

	scriptPath := SubmitScriptPath(r)
	_, statErr := os.Stat(scriptPath)
	require.NoError(t, statErr, "submit script must be written")

	ping, ok, err := heartbeat.ReadQueuedPing(r.QueuedPingPath())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "JOB-42", ping.ClusterJobID)
}

func TestSubmit_PropagatesClusterSubmitOptionsIntoArgv(t *testing.T) {
	r := newTestRun(t)
	// A submit "command" that records its own argv to a file, so the test
	// can assert on exactly what Submit passed it.
	recordPath := filepath.Join(t.TempDir(), "argv.txt")
	submitBin := filepath.Join(t.TempDir(), "record-argv.sh")
	script := "#!/bin/sh\necho \"$@\" > " + recordPath + "\necho JOB-1\n"
	require.NoError(t, os.WriteFile(submitBin, []byte(script), 0o755))

	a := New(SubmitOptions{SubmitCommand: submitBin, SubmitArgs: []string{"--partition=short"}}, "/opt/uap/bin/uap")
	inst := &engine.Instance{Name: "align", ClusterSubmitOptions: []string{"--mem=8G"}}

	_, err := a.Submit(context.Background(), r, inst)
	require.NoError(t, err)

	recorded, err := os.ReadFile(recordPath)
	require.NoError(t, err)
	assert.Contains(t, string(recorded), "--partition=short")
	assert.Contains(t, string(recorded), "--mem=8G")
}

func TestSubmit_FailingCommandReturnsEnvironmentError(t *testing.T) {
	r := newTestRun(t)
	failingBin := filepath.Join(t.TempDir(), "fail.sh")
	require.NoError(t, os.WriteFile(failingBin, []byte("#!/bin/sh\necho boom >&2\nexit 1\n"), 0o755))

	a := New(SubmitOptions{SubmitCommand: failingBin}, "/opt/uap/bin/uap")
	inst := &engine.Instance{Name: "align"}

	_, err := a.Submit(context.Background(), r, inst)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrEnvironment)
	assert.Contains(t, err.Error(), "boom")
}

func TestSubmit_EmptyJobIDIsEnvironmentError(t *testing.T) {
	r := newTestRun(t)
	silentBin := filepath.Join(t.TempDir(), "silent.sh")
	require.NoError(t, os.WriteFile(silentBin, []byte("#!/bin/sh\n"), 0o755))

	a := New(SubmitOptions{SubmitCommand: silentBin}, "/opt/uap/bin/uap")
	inst := &engine.Instance{Name: "align"}

	_, err := a.Submit(context.Background(), r, inst)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrEnvironment)
}

func TestNew_CustomExtractJobID(t *testing.T) {
	a := New(SubmitOptions{ExtractJobID: func(stdout string) (string, error) {
		return "custom-" + stdout, nil
	}}, "/opt/uap/bin/uap")
	id, err := a.Options.ExtractJobID("raw")
	require.NoError(t, err)
	assert.Equal(t, "custom-raw", id)
}

func TestIsPendingViaCommand_ZeroExitMeansPending(t *testing.T) {
	pollBin := filepath.Join(t.TempDir(), "squeue.sh")
	require.NoError(t, os.WriteFile(pollBin, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	isPending := IsPendingViaCommand(pollBin, []string{"-h"})
	pending, err := isPending("job-1")
	require.NoError(t, err)
	assert.True(t, pending)
}

func TestIsPendingViaCommand_NonZeroExitMeansNotPending(t *testing.T) {
	pollBin := filepath.Join(t.TempDir(), "squeue.sh")
	require.NoError(t, os.WriteFile(pollBin, []byte("#!/bin/sh\nexit 1\n"), 0o755))

	isPending := IsPendingViaCommand(pollBin, nil)
	pending, err := isPending("job-1")
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestIsPendingViaCommand_AppendsJobIDAfterPollArgs(t *testing.T) {
	recordPath := filepath.Join(t.TempDir(), "argv.txt")
	pollBin := filepath.Join(t.TempDir(), "squeue.sh")
	script := "#!/bin/sh\necho \"$@\" > " + recordPath + "\nexit 1\n"
	require.NoError(t, os.WriteFile(pollBin, []byte(script), 0o755))

	isPending := IsPendingViaCommand(pollBin, []string{"-h", "-j"})
	_, err := isPending("job-99")
	require.NoError(t, err)

	recorded, err := os.ReadFile(recordPath)
	require.NoError(t, err)
	assert.Equal(t, "-h -j job-99\n", string(recorded))
}

func TestIsPendingViaCommand_MissingBinaryIsEnvironmentError(t *testing.T) {
	isPending := IsPendingViaCommand(filepath.Join(t.TempDir(), "nonexistent"), nil)
	_, err := isPending("job-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrEnvironment)
}

func TestPollJobID_StopsWhenNotPending(t *testing.T) {
	calls := 0
	isPending := func(string) (bool, error) {
		calls++
		return calls < 3, nil
	}
	policy := backoff.NewConstantBackoffPolicy(time.Millisecond)
	err := PollJobID(context.Background(), "job-1", isPending, policy)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPollJobID_PropagatesIsPendingError(t *testing.T) {
	isPending := func(string) (bool, error) {
		return false, errors.New("query failed")
	}
	policy := backoff.NewConstantBackoffPolicy(time.Millisecond)
	err := PollJobID(context.Background(), "job-1", isPending, policy)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query failed")
}

func TestPollJobID_RetriesExhausted(t *testing.T) {
	isPending := func(string) (bool, error) {
		return true, nil
	}
	policy := backoff.NewConstantBackoffPolicy(time.Millisecond)
	policy.MaxRetries = 2
	err := PollJobID(context.Background(), "job-1", isPending, policy)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrEnvironment)
}
