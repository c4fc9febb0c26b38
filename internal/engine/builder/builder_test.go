package builder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uap-go/uap/internal/engine"
)

func sourceConns(outLocal string) *engine.ConnectionSet {
	s := engine.NewConnectionSet()
	_ = s.Add("out/"+outLocal, false, "", "")
	return s
}

func sinkConns(inLocal string, optional bool) *engine.ConnectionSet {
	s := engine.NewConnectionSet()
	_ = s.Add("in/"+inLocal, optional, "", "")
	return s
}

func newPipelineWithSourceAndSink(t *testing.T, explicit map[string][]string) (*engine.Pipeline, *engine.Instance, *engine.Instance) {
	t.Helper()
	p := engine.NewPipeline(t.TempDir())

	source := &engine.Instance{
		Name: "raw",
		Kind: sourceKind{runIDs: []string{"s1", "s2"}},
	}
	require.NoError(t, p.AddInstance(source))

	sink := &engine.Instance{
		Name:    "align",
		Kind:    sinkKindFor("raw"),
		Parents: []*engine.Instance{source},
		Connect: explicit,
	}
	require.NoError(t, p.AddInstance(sink))

	return p, source, sink
}

// sourceKind declares out/raw and produces one literal output file per
// run id, with no inputs of its own.
type sourceKind struct{ runIDs []string }

func (sourceKind) Name() string                       { return "raw_source" }
func (sourceKind) DeclareOptions() []engine.OptionSpec { return nil }
func (sourceKind) DeclareConnections() *engine.ConnectionSet {
	return sourceConns("raw")
}
func (sourceKind) RequiredTools() []string { return nil }
func (sourceKind) IsSource() bool          { return true }
func (k sourceKind) DeclareRuns(ctx context.Context, inst *engine.Instance) ([]*engine.Run, error) {
	var runs []*engine.Run
	for _, id := range k.runIDs {
		r := engine.NewRun(inst.Name, id, inst.Destination)
		if err := r.AddSourceOutputFile("out/raw", "/data/"+id+".fastq", nil); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// sinkKindFor declares in/<local> bound to a parent's matching out/<local>.
type sinkKind struct{ inLocal string }

func sinkKindFor(local string) sinkKind { return sinkKind{inLocal: local} }

func (k sinkKind) Name() string                       { return "sink" }
func (k sinkKind) DeclareOptions() []engine.OptionSpec { return nil }
func (k sinkKind) DeclareConnections() *engine.ConnectionSet {
	return sinkConns(k.inLocal, false)
}
func (sinkKind) RequiredTools() []string { return nil }
func (sinkKind) IsSource() bool          { return false }
func (sinkKind) DeclareRuns(ctx context.Context, inst *engine.Instance) ([]*engine.Run, error) {
	var runs []*engine.Run
	for _, id := range inst.InputRunIDs {
		runs = append(runs, engine.NewRun(inst.Name, id, inst.Destination))
	}
	return runs, nil
}

func TestBuildRunInputs_AutoBind(t *testing.T) {
	p, _, sink := newPipelineWithSourceAndSink(t, nil)
	ctx := context.Background()

	require.NoError(t, BuildRunInputs(ctx, p, sink))

	assert.ElementsMatch(t, []string{"s1", "s2"}, sink.InputRunIDs)
	for _, id := range sink.InputRunIDs {
		paths := sink.InputPaths(id, "in/raw")
		require.Len(t, paths, 1)
		assert.Equal(t, "/data/"+id+".fastq", paths[0])
	}
}

func TestBuildRunInputs_ExplicitConnect(t *testing.T) {
	p, _, sink := newPipelineWithSourceAndSink(t, map[string][]string{"raw": {"raw/raw"}})
	ctx := context.Background()

	require.NoError(t, BuildRunInputs(ctx, p, sink))
	assert.ElementsMatch(t, []string{"s1", "s2"}, sink.InputRunIDs)
}

func TestBuildRunInputs_ExplicitEmptyTarget(t *testing.T) {
	source := &engine.Instance{Name: "raw", Kind: sourceKind{runIDs: []string{"s1"}}}
	p := engine.NewPipeline(t.TempDir())
	require.NoError(t, p.AddInstance(source))

	optionalSink := &engine.Instance{
		Name:    "align",
		Kind:    sinkKind{inLocal: "raw"},
		Parents: nil,
		Connect: map[string][]string{"raw": {engine.EmptyTarget}},
	}
	require.NoError(t, p.AddInstance(optionalSink))

	ctx := context.Background()
	require.NoError(t, BuildRunInputs(ctx, p, optionalSink))
	assert.Empty(t, optionalSink.InputRunIDs)
}

func TestBuildRunInputs_UnboundParentIsConnectionError(t *testing.T) {
	source := &engine.Instance{Name: "raw", Kind: sourceKind{runIDs: []string{"s1"}}}
	p := engine.NewPipeline(t.TempDir())
	require.NoError(t, p.AddInstance(source))

	// sink declares an input connection unrelated to "raw", so the
	// auto-bind loop finds nothing and the parent goes unsatisfied.
	sink := &engine.Instance{
		Name:    "align",
		Kind:    sinkKind{inLocal: "reference"},
		Parents: []*engine.Instance{source},
	}
	require.NoError(t, p.AddInstance(sink))

	err := BuildRunInputs(context.Background(), p, sink)
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrConnection))
}

func TestBuildRunInputs_SourceSkipsBinding(t *testing.T) {
	p := engine.NewPipeline(t.TempDir())
	source := &engine.Instance{Name: "raw", Kind: sourceKind{runIDs: []string{"s1"}}}
	require.NoError(t, p.AddInstance(source))

	require.NoError(t, BuildRunInputs(context.Background(), p, source))
	assert.Nil(t, source.ResolvedInputs)
}
