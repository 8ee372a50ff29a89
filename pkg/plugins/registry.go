package plugins

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry holds installed plugins keyed by manifest ID
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]*entry
}

type entry struct {
	plugin Plugin
	info   PluginInfo
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]*entry),
	}
}

// Register adds a plugin to the registry
func (r *Registry) Register(plugin Plugin, source string) error {
	if plugin == nil {
		return fmt.Errorf("cannot register nil plugin")
	}

	manifest := plugin.Manifest()
	if manifest == nil {
		return fmt.Errorf("plugin has nil manifest")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[manifest.ID]; exists {
		return fmt.Errorf("plugin already registered: %s", manifest.ID)
	}

	r.plugins[manifest.ID] = &entry{
		plugin: plugin,
		info: PluginInfo{
			Manifest:    manifest,
			Metadata:    plugin.Metadata(),
			InstalledAt: time.Now(),
			Source:      source,
		},
	}
	return nil
}

// Unregister removes a plugin from the registry
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[id]; !exists {
		return fmt.Errorf("plugin not found: %s", id)
	}

	delete(r.plugins, id)
	return nil
}

// Get retrieves a plugin by ID
func (r *Registry) Get(id string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.plugins[id]
	if !exists {
		return nil, fmt.Errorf("plugin not found: %s", id)
	}

	return e.plugin, nil
}

// Info returns runtime information about an installed plugin
func (r *Registry) Info(id string) (PluginInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.plugins[id]
	if !exists {
		return PluginInfo{}, false
	}
	return e.info, true
}

// SetManifest replaces the manifest recorded for an installed plugin
func (r *Registry) SetManifest(id string, manifest *Manifest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.plugins[id]
	if !exists {
		return fmt.Errorf("plugin not found: %s", id)
	}
	e.info.Manifest = manifest
	return nil
}

// Has checks if a plugin is registered
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.plugins[id]
	return exists
}

// List returns all registered plugins ordered by ID
func (r *Registry) List() []PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]PluginInfo, 0, len(r.plugins))
	for _, e := range r.plugins {
		result = append(result, e.info)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Manifest.ID < result[j].Manifest.ID
	})

	return result
}

// Count returns the number of registered plugins
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.plugins)
}
