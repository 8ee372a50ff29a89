package plugins

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPlugin struct {
	manifest *Manifest
}

func (p *stubPlugin) Manifest() *Manifest { return p.manifest }

func (p *stubPlugin) Metadata() Metadata {
	return Metadata{Name: p.manifest.Name, Version: p.manifest.Version, Author: p.manifest.Author}
}

func (p *stubPlugin) Execute(ctx context.Context, inv Invocation) (any, error) {
	return inv.Args, nil
}

func newStub(id string) *stubPlugin {
	m := testManifest()
	m.ID = id
	return &stubPlugin{manifest: m}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(newStub("b-plugin"), "builtin"))
	require.NoError(t, r.Register(newStub("a-plugin"), "file"))
	assert.Equal(t, 2, r.Count())
	assert.True(t, r.Has("a-plugin"))

	err := r.Register(newStub("a-plugin"), "file")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	p, err := r.Get("b-plugin")
	require.NoError(t, err)
	assert.Equal(t, "b-plugin", p.Manifest().ID)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a-plugin", list[0].Manifest.ID)
	assert.Equal(t, "file", list[0].Source)
	assert.Equal(t, "Test Plugin", list[1].Metadata.Name)
	assert.False(t, list[1].InstalledAt.IsZero())

	require.NoError(t, r.Unregister("a-plugin"))
	assert.False(t, r.Has("a-plugin"))
	assert.Error(t, r.Unregister("a-plugin"))

	_, err = r.Get("a-plugin")
	assert.Error(t, err)
}

func TestRegistryRejectsInvalid(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(nil, "builtin"))
	assert.Error(t, r.Register(&stubPlugin{}, "builtin"))
}

func TestRegistrySetManifest(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newStub("p"), "builtin"))

	updated := testManifest()
	updated.ID = "p"
	updated.Permissions.CanSpendNativeToken = false
	require.NoError(t, r.SetManifest("p", updated))

	info, ok := r.Info("p")
	require.True(t, ok)
	assert.False(t, info.Manifest.Permissions.CanSpendNativeToken)

	assert.Error(t, r.SetManifest("missing", updated))
	_, ok = r.Info("missing")
	assert.False(t, ok)
}
