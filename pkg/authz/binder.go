package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

type bindingKey struct {
	op   OperationID
	path CallPath
}

// Binder maps every (operation, call path) pair of a plugin to a rule and
// evaluates invocations against it. A Binder is immutable after construction.
type Binder struct {
	rules     map[bindingKey]Rule
	providers []Authorizer
	logger    logrus.FieldLogger
	observe   func(op OperationID, path CallPath, allowed bool)
}

// Option configures a Binder
type Option func(*Binder)

// WithLogger sets the logger used for denials
func WithLogger(logger logrus.FieldLogger) Option {
	return func(b *Binder) {
		b.logger = logger
	}
}

// WithObserver registers a callback invoked with every decision
func WithObserver(fn func(op OperationID, path CallPath, allowed bool)) Option {
	return func(b *Binder) {
		b.observe = fn
	}
}

// NewBinder validates bindings against the declared operations and providers.
// Every operation must be bound on every call path exactly once.
func NewBinder(operations []OperationID, bindings []Binding, providers []Authorizer, opts ...Option) (*Binder, error) {
	known := make(map[OperationID]bool, len(operations))
	for _, op := range operations {
		if op == "" {
			return nil, fmt.Errorf("%w: empty operation id", ErrInvalidBinding)
		}
		known[op] = true
	}

	rules := make(map[bindingKey]Rule, len(bindings))
	for _, b := range bindings {
		if !known[b.Operation] {
			return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidBinding, b.Operation)
		}
		if !b.Path.Valid() {
			return nil, fmt.Errorf("%w: unknown call path %q for %s", ErrInvalidBinding, b.Path, b.Operation)
		}
		if err := validateRule(b.Rule, providers); err != nil {
			return nil, fmt.Errorf("%w: %s/%s: %v", ErrInvalidBinding, b.Operation, b.Path, err)
		}

		k := bindingKey{op: b.Operation, path: b.Path}
		if _, dup := rules[k]; dup {
			return nil, fmt.Errorf("%w: duplicate binding for %s/%s", ErrInvalidBinding, b.Operation, b.Path)
		}
		rules[k] = b.Rule
	}

	for _, op := range operations {
		for _, path := range AllPaths {
			if _, ok := rules[bindingKey{op: op, path: path}]; !ok {
				return nil, fmt.Errorf("%w: %s has no rule for path %s", ErrIncompleteBinding, op, path)
			}
		}
	}

	b := &Binder{
		rules:     rules,
		providers: providers,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

func validateRule(r Rule, providers []Authorizer) error {
	switch r.Kind {
	case KindAlwaysDeny:
		return nil
	case KindDelegated:
		if r.Provider < 0 || r.Provider >= len(providers) {
			return fmt.Errorf("provider index %d out of range (%d declared)", r.Provider, len(providers))
		}
		if providers[r.Provider] == nil {
			return fmt.Errorf("provider %d is nil", r.Provider)
		}
		return nil
	default:
		return fmt.Errorf("invalid rule kind %q", r.Kind)
	}
}

// Rule returns the rule bound to (op, path)
func (b *Binder) Rule(op OperationID, path CallPath) (Rule, bool) {
	r, ok := b.rules[bindingKey{op: op, path: path}]
	return r, ok
}

// Decide evaluates req. Unbound pairs, always-deny rules, provider rejections
// and provider errors all result in a denial.
func (b *Binder) Decide(ctx context.Context, req Request) Decision {
	d := b.decide(ctx, req)
	d.CheckedAt = time.Now()

	if b.observe != nil {
		b.observe(req.Operation, req.Path, d.Allowed)
	}
	if !d.Allowed {
		b.logger.WithFields(logrus.Fields{
			"operation": req.Operation,
			"path":      req.Path,
			"caller":    req.Caller,
			"rule":      d.Rule.String(),
		}).Info("Invocation denied: " + d.Reason)
	}

	return d
}

func (b *Binder) decide(ctx context.Context, req Request) Decision {
	rule, ok := b.rules[bindingKey{op: req.Operation, path: req.Path}]
	if !ok {
		return Decision{Allowed: false, Rule: AlwaysDeny(), Reason: "no binding"}
	}

	switch rule.Kind {
	case KindAlwaysDeny:
		return Decision{Allowed: false, Rule: rule, Reason: "always deny"}
	case KindDelegated:
		approved, err := b.providers[rule.Provider].Approve(ctx, req)
		if err != nil {
			return Decision{Allowed: false, Rule: rule, Reason: fmt.Sprintf("provider error: %v", err)}
		}
		if !approved {
			return Decision{Allowed: false, Rule: rule, Reason: "provider rejected"}
		}
		return Decision{Allowed: true, Rule: rule}
	default:
		return Decision{Allowed: false, Rule: rule, Reason: "invalid rule"}
	}
}

// Check is Decide reduced to an error: nil on approval, ErrUnauthorized otherwise
func (b *Binder) Check(ctx context.Context, req Request) error {
	d := b.Decide(ctx, req)
	if !d.Allowed {
		return fmt.Errorf("%w: %s via %s: %s", ErrUnauthorized, req.Operation, req.Path, d.Reason)
	}
	return nil
}
