package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRunID(t *testing.T) {
	assert.Equal(t, "sample_1", NormalizeRunID("sample 1"))
	assert.Equal(t, "sample_1_2", NormalizeRunID("  sample   1\t2  "))
	assert.Equal(t, "sample1", NormalizeRunID("sample1"))
}

func TestRun_Paths(t *testing.T) {
	r := NewRun("align", "sample 1", "/dest/align")
	assert.Equal(t, "align/sample_1", r.TaskID())
	assert.Equal(t, "/dest/align", r.OutputDir())
	assert.Equal(t, "/dest/align/.sample_1.annotation.yaml", r.AnnotationPath())
	assert.Equal(t, "/dest/align/.sample_1.queued.yaml", r.QueuedPingPath())
	assert.Equal(t, "/dest/align/.sample_1.executing.yaml", r.ExecutingPingPath())
}

func TestRun_AddOutputFile(t *testing.T) {
	r := NewRun("align", "s1", "/dest/align")
	require.NoError(t, r.AddOutputFile("out/bam", "s1.bam", []string{"/dest/src/s1.fastq"}))

	abs := "/dest/align/s1.bam"
	info, ok := r.KnownPaths[abs]
	require.True(t, ok)
	assert.Equal(t, DesignationOutput, info.Designation)
	assert.Equal(t, "out/bam", info.Type)

	inInfo, ok := r.KnownPaths["/dest/src/s1.fastq"]
	require.True(t, ok)
	assert.Equal(t, DesignationInput, inInfo.Designation)

	assert.Contains(t, r.OutputBasenames(), "s1.bam")
}

func TestRun_AddOutputFile_DuplicateBasenameAcrossConnections(t *testing.T) {
	r := NewRun("align", "s1", "/dest/align")
	require.NoError(t, r.AddOutputFile("out/bam", "s1.bam", nil))

	err := r.AddOutputFile("out/other", "s1.bam", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestRun_AddOutputFile_DuplicateBasenameSameConnection(t *testing.T) {
	r := NewRun("align", "s1", "/dest/align")
	require.NoError(t, r.AddOutputFile("out/bam", "s1.bam", nil))

	err := r.AddOutputFile("out/bam", "s1.bam", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestRun_AddSourceOutputFile(t *testing.T) {
	r := NewRun("raw", "s1", "/dest/raw")
	require.NoError(t, r.AddSourceOutputFile("out/raw", "/data/s1.fastq", nil))

	info, ok := r.KnownPaths["/data/s1.fastq"]
	require.True(t, ok)
	assert.Equal(t, DesignationOutput, info.Designation)

	err := r.AddSourceOutputFile("out/raw", "/data/s1.fastq", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestRun_AddTemporaryFile(t *testing.T) {
	r := NewRun("align", "s1", "/dest/align")
	name1 := r.AddTemporaryFile("sorted.bam", DesignationOutput)
	name2 := r.AddTemporaryFile("sorted.bam", DesignationOutput)
	assert.NotEqual(t, name1, name2, "successive temp files must not collide")

	info, ok := r.KnownPaths[name1]
	require.True(t, ok)
	assert.Equal(t, "temporary", info.Type)
}

func TestRun_TempDir_MemoizedPerValue(t *testing.T) {
	r := NewRun("align", "s1", "/dest/align")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	first := r.TempDir(base)
	second := r.TempDir(base.Add(time.Second))
	assert.Equal(t, first, second, "TempDir must memoize regardless of the time passed on later calls")
}
