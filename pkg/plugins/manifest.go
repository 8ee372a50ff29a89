package plugins

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/platinummonkey/pullpay/pkg/authz"
	"gopkg.in/yaml.v3"
)

const (
	// CurrentAPIVersion is the host API version plugins are built against
	CurrentAPIVersion = "1.0.0"

	// ManifestFileName is the manifest file looked up in a plugin directory
	ManifestFileName = "plugin.yaml"
)

var semverRegex = regexp.MustCompile(`^v?(\d+)\.(\d+)\.(\d+)(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// LoadManifest loads and parses a plugin manifest from a file
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	return &manifest, nil
}

// LoadManifestFromDir loads a plugin manifest from a directory (looks for plugin.yaml)
func LoadManifestFromDir(dir string) (*Manifest, error) {
	return LoadManifest(filepath.Join(dir, ManifestFileName))
}

// SaveManifest saves a plugin manifest to a file
func SaveManifest(manifest *Manifest, path string) error {
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	return nil
}

// ValidateManifest performs validation on a plugin manifest, including the
// structural soundness of its authorization bindings
func ValidateManifest(manifest *Manifest) []ValidationError {
	var errs []ValidationError

	// Required fields
	if manifest.ID == "" {
		errs = append(errs, ValidationError{
			Field:   "id",
			Message: "Plugin ID is required",
		})
	}

	if manifest.Name == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "Plugin name is required",
		})
	}

	if manifest.Version == "" {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: "Version is required",
		})
	}

	if manifest.APIVersion == "" {
		errs = append(errs, ValidationError{
			Field:   "api_version",
			Message: "API version is required",
		})
	}

	// Validate semver format
	if manifest.Version != "" && !isValidSemver(manifest.Version) {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("Invalid semver format: %s", manifest.Version),
		})
	}

	if manifest.APIVersion != "" {
		if !isValidSemver(manifest.APIVersion) {
			errs = append(errs, ValidationError{
				Field:   "api_version",
				Message: fmt.Sprintf("Invalid semver format: %s", manifest.APIVersion),
			})
		} else if !IsCompatibleAPIVersion(manifest.APIVersion, CurrentAPIVersion) {
			errs = append(errs, ValidationError{
				Field:   "api_version",
				Message: fmt.Sprintf("Incompatible API version %s (host is %s)", manifest.APIVersion, CurrentAPIVersion),
			})
		}
	}

	for i, dep := range manifest.Dependencies {
		if dep.ID == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("dependencies[%d].id", i),
				Message: "Dependency ID is required",
			})
		}
	}

	if len(manifest.ExecutionFunctions) == 0 {
		errs = append(errs, ValidationError{
			Field:   "execution_functions",
			Message: "At least one execution function is required",
		})
	}

	seen := make(map[authz.OperationID]bool, len(manifest.ExecutionFunctions))
	for _, op := range manifest.ExecutionFunctions {
		if seen[op] {
			errs = append(errs, ValidationError{
				Field:   "execution_functions",
				Message: fmt.Sprintf("Duplicate execution function: %s", op),
			})
		}
		seen[op] = true
	}

	if len(manifest.ExecutionFunctions) > 0 {
		if err := ValidateBindings(manifest); err != nil {
			errs = append(errs, ValidationError{
				Field:   "bindings",
				Message: err.Error(),
			})
		}
	}

	return errs
}

// ValidateBindings checks the manifest's bindings against its execution
// functions and dependency list without resolving any provider
func ValidateBindings(manifest *Manifest) error {
	placeholders := make([]authz.Authorizer, len(manifest.Dependencies))
	for i := range placeholders {
		placeholders[i] = authz.AuthorizerFunc(func(context.Context, authz.Request) (bool, error) {
			return false, nil
		})
	}

	_, err := authz.NewBinder(manifest.ExecutionFunctions, manifest.Bindings, placeholders)
	return err
}

// ManifestError joins validation errors into a single error
func ManifestError(errs []ValidationError) error {
	if len(errs) == 0 {
		return nil
	}

	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return errors.New("invalid manifest: " + strings.Join(msgs, "; "))
}

// isValidSemver checks if a version string follows semantic versioning
func isValidSemver(version string) bool {
	return semverRegex.MatchString(version)
}

// IsCompatibleAPIVersion checks if a plugin's API version is compatible with the host
func IsCompatibleAPIVersion(pluginAPIVersion, hostAPIVersion string) bool {
	// only the major version has to match
	return extractMajorVersion(pluginAPIVersion) == extractMajorVersion(hostAPIVersion)
}

func extractMajorVersion(version string) string {
	matches := semverRegex.FindStringSubmatch(version)
	if len(matches) > 1 {
		return matches[1]
	}
	return "0"
}

// HasOperation reports whether op is one of the manifest's execution functions
func (m *Manifest) HasOperation(op authz.OperationID) bool {
	for _, fn := range m.ExecutionFunctions {
		if fn == op {
			return true
		}
	}
	return false
}
