package plugins

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestWatcherReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFileName)
	require.NoError(t, SaveManifest(testManifest(), path))

	var applied []*Manifest
	logger, _ := test.NewNullLogger()
	w, err := NewManifestWatcher(path, func(m *Manifest) error {
		applied = append(applied, m)
		return nil
	}, logger)
	require.NoError(t, err)
	defer w.watcher.Close()

	require.NoError(t, w.Reload())
	require.Len(t, applied, 1)

	broken := testManifest()
	broken.Bindings = broken.Bindings[:1]
	require.NoError(t, SaveManifest(broken, path))

	err = w.Reload()
	assert.Error(t, err)
	assert.Len(t, applied, 1, "invalid manifest must not be applied")
}

func TestManifestWatcherRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFileName)
	require.NoError(t, SaveManifest(testManifest(), path))

	applied := make(chan *Manifest, 4)
	logger, _ := test.NewNullLogger()
	w, err := NewManifestWatcher(path, func(m *Manifest) error {
		applied <- m
		return nil
	}, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// unrelated files in the directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.txt"), []byte("x"), 0644))

	updated := testManifest()
	updated.Version = "1.1.0"
	require.NoError(t, SaveManifest(updated, path))

	select {
	case m := <-applied:
		assert.Equal(t, "1.1.0", m.Version)
	case <-time.After(5 * time.Second):
		t.Fatal("manifest change was not observed")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestNewManifestWatcherMissingDir(t *testing.T) {
	_, err := NewManifestWatcher("/nonexistent/dir/plugin.yaml", func(*Manifest) error { return nil }, nil)
	assert.Error(t, err)
}
