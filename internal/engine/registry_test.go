package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKind struct{ name string }

func (k fakeKind) Name() string                     { return k.name }
func (k fakeKind) DeclareOptions() []OptionSpec      { return nil }
func (k fakeKind) DeclareConnections() *ConnectionSet { return NewConnectionSet() }
func (k fakeKind) RequiredTools() []string           { return nil }
func (k fakeKind) IsSource() bool                    { return true }
func (k fakeKind) DeclareRuns(ctx context.Context, inst *Instance) ([]*Run, error) {
	return nil, nil
}

func TestRegistry_RegisterLookup(t *testing.T) {
	r := &Registry{kinds: make(map[string]Kind)}
	r.Register(fakeKind{name: "test_kind_a"})

	k, ok := r.Lookup("test_kind_a")
	require.True(t, ok)
	assert.Equal(t, "test_kind_a", k.Name())

	_, ok = r.Lookup("nope")
	assert.False(t, ok)
}

func TestRegistry_KindNamesSorted(t *testing.T) {
	r := &Registry{kinds: make(map[string]Kind)}
	r.Register(fakeKind{name: "zeta"})
	r.Register(fakeKind{name: "alpha"})
	r.Register(fakeKind{name: "mid"})

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.KindNames())
}

func TestRegistry_RegisterUncallableStaysDiscoverableButRefusesMustLookup(t *testing.T) {
	r := &Registry{kinds: make(map[string]Kind), uncallable: make(map[string]bool)}
	r.RegisterUncallable(fakeKind{name: "legacy_kind"})

	k, ok := r.Lookup("legacy_kind")
	require.True(t, ok, "uncallable kinds stay in the discoverable set")
	assert.Equal(t, "legacy_kind", k.Name())
	assert.Contains(t, r.KindNames(), "legacy_kind")

	_, err := r.MustLookup("legacy_kind")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestMustLookup(t *testing.T) {
	Register(fakeKind{name: "test_kind_must_lookup"})

	k, err := MustLookup("test_kind_must_lookup")
	require.NoError(t, err)
	assert.Equal(t, "test_kind_must_lookup", k.Name())

	_, err = MustLookup("definitely_not_registered")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
}
