// Package plugins describes installable account plugins and manages their
// manifests.
//
// # Overview
//
// A plugin exposes a fixed set of execution functions. Its manifest declares,
// for each function and each call path, which authorization rule gates it,
// and which external providers those rules may delegate to:
//
//	id: subscription-plugin
//	name: Subscription Plugin
//	version: 1.0.0
//	api_version: 1.0.0
//	dependencies:
//	  - id: ownership-validator
//	execution_functions: [createSubscription, collectPayment]
//	bindings:
//	  - operation: createSubscription
//	    path: user_op
//	    rule: {kind: delegated, provider: 0}
//	  - operation: createSubscription
//	    path: runtime
//	    rule: {kind: always_deny}
//	  ...
//	permissions:
//	  can_spend_native_token: true
//
// # Components
//
// Plugin: Interface implemented by installable plugins (Manifest, Metadata, Execute)
// Registry: In-memory registry of installed plugins
// ManifestWatcher: Reloads a manifest file on change using fsnotify
// ValidateManifest: Required fields, version formats, binding completeness
//
// # Related Packages
//
//   - pkg/authz: Evaluates the bindings declared here
//   - pkg/host: Installs plugins and enforces their manifests
package plugins
