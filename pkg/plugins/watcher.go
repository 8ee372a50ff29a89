package plugins

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ManifestWatcher reloads a manifest file whenever it changes on disk and
// hands every valid revision to a callback. Invalid revisions are logged and
// skipped so the previously applied manifest stays in effect.
type ManifestWatcher struct {
	path     string
	onChange func(*Manifest) error
	log      logrus.FieldLogger
	watcher  *fsnotify.Watcher
}

// NewManifestWatcher watches the directory containing path, which tolerates
// editors that replace the file instead of writing it in place
func NewManifestWatcher(path string, onChange func(*Manifest) error, log logrus.FieldLogger) (*ManifestWatcher, error) {
	if log == nil {
		log = logrus.New()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to resolve manifest path: %w", err)
	}

	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &ManifestWatcher{
		path:     abs,
		onChange: onChange,
		log:      log.WithField("manifest", abs),
		watcher:  w,
	}, nil
}

// Run processes file events until ctx is cancelled
func (mw *ManifestWatcher) Run(ctx context.Context) error {
	defer mw.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-mw.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != mw.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			mw.reload()
		case err, ok := <-mw.watcher.Errors:
			if !ok {
				return nil
			}
			mw.log.Warnf("Manifest watcher error: %v", err)
		}
	}
}

// Reload loads and applies the manifest once, returning the outcome
func (mw *ManifestWatcher) Reload() error {
	manifest, err := LoadManifest(mw.path)
	if err != nil {
		return err
	}

	if err := ManifestError(ValidateManifest(manifest)); err != nil {
		return err
	}

	if err := mw.onChange(manifest); err != nil {
		return fmt.Errorf("failed to apply manifest: %w", err)
	}

	return nil
}

func (mw *ManifestWatcher) reload() {
	if err := mw.Reload(); err != nil {
		mw.log.Errorf("Keeping previous manifest: %v", err)
		return
	}
	mw.log.Info("Manifest reloaded")
}
