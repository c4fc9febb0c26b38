package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeline_AddInstance(t *testing.T) {
	p := NewPipeline("/dest")
	inst := &Instance{Name: "align"}
	require.NoError(t, p.AddInstance(inst))
	assert.Equal(t, "/dest/align", inst.Destination)

	got, ok := p.Instance("align")
	require.True(t, ok)
	assert.Same(t, inst, got)

	err := p.AddInstance(&Instance{Name: "align"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestPipeline_InstancesPreservesOrder(t *testing.T) {
	p := NewPipeline("/dest")
	require.NoError(t, p.AddInstance(&Instance{Name: "c"}))
	require.NoError(t, p.AddInstance(&Instance{Name: "a"}))
	require.NoError(t, p.AddInstance(&Instance{Name: "b"}))

	var names []string
	for _, inst := range p.Instances() {
		names = append(names, inst.Name)
	}
	assert.Equal(t, []string{"c", "a", "b"}, names)
}

func TestPipeline_ClaimOutputFile(t *testing.T) {
	p := NewPipeline("/dest")
	require.NoError(t, p.ClaimOutputFile("/dest/align/s1.bam", "align/s1"))

	taskID, ok := p.TaskForOutputFile("/dest/align/s1.bam")
	require.True(t, ok)
	assert.Equal(t, "align/s1", taskID)

	_, ok = p.TaskForOutputFile("/dest/align/missing.bam")
	assert.False(t, ok)

	// Re-claiming by the same task is idempotent.
	require.NoError(t, p.ClaimOutputFile("/dest/align/s1.bam", "align/s1"))

	err := p.ClaimOutputFile("/dest/align/s1.bam", "align/s2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
}
