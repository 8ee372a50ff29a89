package plugins

import (
	"context"
	"time"

	"github.com/platinummonkey/pullpay/pkg/authz"
)

// Plugin is the interface every installable account plugin implements
type Plugin interface {
	Manifest() *Manifest
	Metadata() Metadata
	// Execute dispatches an already authorized invocation
	Execute(ctx context.Context, inv Invocation) (any, error)
}

// Metadata is the fixed self-description of a plugin
type Metadata struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
	Author  string `json:"author" yaml:"author"`
}

// Manifest declares a plugin's dependencies, exposed operations, the
// authorization rule of each operation per call path, and its permissions
type Manifest struct {
	ID                 string              `json:"id" yaml:"id"`                   // Unique ID (e.g., "subscription-plugin")
	Name               string              `json:"name" yaml:"name"`               // Display name
	Version            string              `json:"version" yaml:"version"`         // Semver
	APIVersion         string              `json:"api_version" yaml:"api_version"` // Host API version
	Description        string              `json:"description,omitempty" yaml:"description,omitempty"`
	Author             string              `json:"author" yaml:"author"`
	Dependencies       []Dependency        `json:"dependencies" yaml:"dependencies"` // Authorization providers, by index
	ExecutionFunctions []authz.OperationID `json:"execution_functions" yaml:"execution_functions"`
	Bindings           []authz.Binding     `json:"bindings" yaml:"bindings"`
	Permissions        Permissions         `json:"permissions" yaml:"permissions"`
	Metadata           map[string]string   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Dependency references an external authorization provider. Bindings refer
// to dependencies by their position in Manifest.Dependencies.
type Dependency struct {
	ID       string `json:"id" yaml:"id"`
	Function string `json:"function,omitempty" yaml:"function,omitempty"`
}

// Permissions are the capabilities a plugin requests from the host
type Permissions struct {
	CanSpendNativeToken bool `json:"can_spend_native_token" yaml:"can_spend_native_token"`
}

// Invocation is an authorized call handed to Plugin.Execute
type Invocation struct {
	Operation authz.OperationID
	Caller    string
	Args      any
}

// PluginInfo contains runtime information about an installed plugin
type PluginInfo struct {
	Manifest    *Manifest
	Metadata    Metadata
	InstalledAt time.Time
	Source      string // builtin, file
}

// ValidationError represents a manifest validation error
type ValidationError struct {
	Field    string `json:"field"`
	Message  string `json:"message"`
	Severity string `json:"severity,omitempty"` // error, warning
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
