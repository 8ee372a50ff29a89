// Package host is the account runtime that installs plugins, routes
// invocations through their authorization binders and executes the value
// transfers plugins request.
//
// Invocations arrive on one of two call paths: user operations, which carry
// a credential for the delegated validator, and direct runtime calls. Each
// top-level invocation holds the runtime's invocation lock until it returns;
// calls that re-enter the runtime from inside an invocation (for example a
// receiver notified of an incoming transfer) run within it instead of
// waiting.
package host
