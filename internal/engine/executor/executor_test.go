package executor

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uap-go/uap/internal/engine"
	"github.com/uap-go/uap/internal/engine/annotate"
	"github.com/uap-go/uap/internal/fscache"
)

func newWorkingRun(t *testing.T, script string) *engine.Run {
	t.Helper()
	dir := t.TempDir()
	r := engine.NewRun("align", "s1", dir)
	require.NoError(t, r.AddOutputFile("out/bam", "s1.bam", nil))
	g := engine.NewExecGroup("work")
	g.AddCommand(engine.CommandInfo{Label: "work", Argv: []string{"sh", "-c", script}})
	r.AddExecGroup(g)
	return r
}

func TestExecuteRun_PublishesAnnouncedOutput(t *testing.T) {
	r := newWorkingRun(t, "echo bamdata > s1.bam")

	result, err := ExecuteRun(context.Background(), r, "alignment", Options{})
	require.NoError(t, err)
	assert.False(t, result.Skipped)

	data, err := os.ReadFile(filepath.Join(r.OutputDir(), "s1.bam"))
	require.NoError(t, err)
	assert.Equal(t, "bamdata\n", string(data))

	_, ok, err := annotate.Read(r.AnnotationPath())
	require.NoError(t, err)
	assert.True(t, ok)

	outPath := filepath.Join(r.OutputDir(), "s1.bam")
	require.Contains(t, r.KnownPaths, outPath)
	assert.NotEmpty(t, r.KnownPaths[outPath].SHA256)
}

func TestExecuteRun_MissingAnnouncedOutputIsIntegrityError(t *testing.T) {
	r := newWorkingRun(t, "true") // never writes s1.bam

	_, err := ExecuteRun(context.Background(), r, "alignment", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrIntegrity)
}

func TestExecuteRun_FailingCommandIsExecutionError(t *testing.T) {
	r := newWorkingRun(t, "exit 5")

	_, err := ExecuteRun(context.Background(), r, "alignment", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrExecution)

	_, ok, readErr := annotate.Read(r.AnnotationPath())
	require.NoError(t, readErr)
	require.True(t, ok, "a failed run still writes its annotation")
}

func TestExecuteRun_IdempotentOnRerun(t *testing.T) {
	r := newWorkingRun(t, "echo bamdata > s1.bam")
	_, err := ExecuteRun(context.Background(), r, "alignment", Options{})
	require.NoError(t, err)

	result, err := ExecuteRun(context.Background(), r, "alignment", Options{})
	require.NoError(t, err)
	assert.True(t, result.Skipped)
}

func TestExecuteRun_ChangedOutputRefusedWithoutForce(t *testing.T) {
	r := newWorkingRun(t, "echo bamdata > s1.bam")
	_, err := ExecuteRun(context.Background(), r, "alignment", Options{})
	require.NoError(t, err)

	// Mutate the published output out from under the annotation.
	outPath := filepath.Join(r.OutputDir(), "s1.bam")
	require.NoError(t, os.WriteFile(outPath, []byte("tampered"), 0o644))

	r2 := engine.NewRun("align", "s1", r.DestinationDir)
	require.NoError(t, r2.AddOutputFile("out/bam", "s1.bam", nil))
	g := engine.NewExecGroup("work")
	g.AddCommand(engine.CommandInfo{Label: "work", Argv: []string{"sh", "-c", "echo bamdata > s1.bam"}})
	r2.AddExecGroup(g)

	_, err = ExecuteRun(context.Background(), r2, "alignment", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrPreflight)
}

func TestExecuteRun_ForceRerunsChangedOutput(t *testing.T) {
	r := newWorkingRun(t, "echo bamdata > s1.bam")
	_, err := ExecuteRun(context.Background(), r, "alignment", Options{})
	require.NoError(t, err)

	outPath := filepath.Join(r.OutputDir(), "s1.bam")
	require.NoError(t, os.WriteFile(outPath, []byte("tampered"), 0o644))

	r2 := engine.NewRun("align", "s1", r.DestinationDir)
	require.NoError(t, r2.AddOutputFile("out/bam", "s1.bam", nil))
	g := engine.NewExecGroup("work")
	g.AddCommand(engine.CommandInfo{Label: "work", Argv: []string{"sh", "-c", "echo freshdata > s1.bam"}})
	r2.AddExecGroup(g)

	result, err := ExecuteRun(context.Background(), r2, "alignment", Options{Force: true})
	require.NoError(t, err)
	assert.False(t, result.Skipped)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "freshdata\n", string(data))
}

func TestExecuteRun_SourceRunHashesAndAnnotatesOnly(t *testing.T) {
	dir := t.TempDir()
	r := engine.NewRun("raw", "s1", dir)
	dataPath := filepath.Join(t.TempDir(), "s1.fastq")
	require.NoError(t, os.WriteFile(dataPath, []byte("reads"), 0o644))
	require.NoError(t, r.AddSourceOutputFile("out/raw", dataPath, nil))

	result, err := ExecuteRun(context.Background(), r, "raw_file_source", Options{})
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.NotEmpty(t, r.KnownPaths[dataPath].SHA256)

	_, ok, err := annotate.Read(r.AnnotationPath())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExecuteRun_SIGTERMRecordsCaughtSignal(t *testing.T) {
	r := newWorkingRun(t, "sleep 5")

	go func() {
		time.Sleep(200 * time.Millisecond)
		require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	}()

	result, err := ExecuteRun(context.Background(), r, "alignment", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrCancellation)
	assert.Equal(t, "SIGTERM", result.Annotation.CaughtSignal)
}

func TestExecuteRun_UsesProvidedFSCache(t *testing.T) {
	r := newWorkingRun(t, "echo bamdata > s1.bam")
	cache := fscache.New(8)

	_, err := ExecuteRun(context.Background(), r, "alignment", Options{FSCache: cache})
	require.NoError(t, err)

	outPath := filepath.Join(r.OutputDir(), "s1.bam")
	assert.True(t, cache.Exists(outPath))
}
