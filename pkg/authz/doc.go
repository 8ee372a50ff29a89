// Package authz binds each exposed plugin operation, per call path, to an
// authorization rule and evaluates invocations against those bindings.
//
// A rule either delegates the decision to one of the plugin's declared
// providers (by index into its dependency list) or always denies. Binders
// are validated when built: every operation must carry a rule for every
// call path, so a plugin with an incomplete declaration never starts.
// Evaluation fails closed.
package authz
