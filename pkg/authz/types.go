package authz

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized is returned for every denied invocation
	ErrUnauthorized = errors.New("unauthorized")

	// ErrIncompleteBinding is returned when an operation has no rule for a call path
	ErrIncompleteBinding = errors.New("incomplete binding")

	// ErrInvalidBinding is returned for malformed binding declarations
	ErrInvalidBinding = errors.New("invalid binding")
)

// OperationID names an exposed plugin operation
type OperationID string

// CallPath identifies how an invocation reached the plugin
type CallPath string

const (
	// PathUserOp is the fully validated user-operation path
	PathUserOp CallPath = "user_op"
	// PathRuntime is the direct runtime caller path
	PathRuntime CallPath = "runtime"
)

// AllPaths lists every call path an operation must be bound for
var AllPaths = []CallPath{PathUserOp, PathRuntime}

// Valid reports whether p is a known call path
func (p CallPath) Valid() bool {
	return p == PathUserOp || p == PathRuntime
}

// RuleKind selects the rule variant
type RuleKind string

const (
	KindDelegated  RuleKind = "delegated"
	KindAlwaysDeny RuleKind = "always_deny"
)

// Rule is an authorization rule: either delegated to a provider or always deny.
// Provider is the index into the plugin's declared dependency list and is only
// meaningful for KindDelegated.
type Rule struct {
	Kind     RuleKind `json:"kind" yaml:"kind"`
	Provider int      `json:"provider,omitempty" yaml:"provider,omitempty"`
}

// DelegatedTo returns a rule that defers the decision to provider index i
func DelegatedTo(i int) Rule {
	return Rule{Kind: KindDelegated, Provider: i}
}

// AlwaysDeny returns a rule that rejects unconditionally
func AlwaysDeny() Rule {
	return Rule{Kind: KindAlwaysDeny}
}

// String returns a string representation of the rule
func (r Rule) String() string {
	switch r.Kind {
	case KindDelegated:
		return fmt.Sprintf("delegated(%d)", r.Provider)
	case KindAlwaysDeny:
		return "always_deny"
	default:
		return fmt.Sprintf("invalid(%s)", r.Kind)
	}
}

// Binding associates one (operation, call path) pair with a rule
type Binding struct {
	Operation OperationID `json:"operation" yaml:"operation"`
	Path      CallPath    `json:"path" yaml:"path"`
	Rule      Rule        `json:"rule" yaml:"rule"`
}

// Request is the information handed to an authorization provider
type Request struct {
	Operation  OperationID
	Path       CallPath
	Caller     string
	Args       any
	Credential string
}

// Authorizer is an external authorization provider
type Authorizer interface {
	// Approve reports whether the request may proceed. An error is a denial.
	Approve(ctx context.Context, req Request) (bool, error)
}

// AuthorizerFunc adapts a function to the Authorizer interface
type AuthorizerFunc func(ctx context.Context, req Request) (bool, error)

// Approve calls f(ctx, req)
func (f AuthorizerFunc) Approve(ctx context.Context, req Request) (bool, error) {
	return f(ctx, req)
}

// Decision is the result of evaluating a request against the binder
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Rule      Rule      `json:"rule"`
	Reason    string    `json:"reason,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}
