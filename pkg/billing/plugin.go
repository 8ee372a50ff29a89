package billing

import (
	"context"
	"fmt"

	"github.com/platinummonkey/pullpay/pkg/authz"
	"github.com/platinummonkey/pullpay/pkg/ledger"
	"github.com/platinummonkey/pullpay/pkg/plugins"
)

const (
	PluginID      = "subscription-plugin"
	PluginName    = "Subscription Plugin"
	PluginVersion = "1.0.0"
	PluginAuthor  = "pullpay"

	// OwnershipValidatorID is the dependency every operation delegates to on the user operation path
	OwnershipValidatorID = "ownership-validator"

	OpCreateSubscription authz.OperationID = "createSubscription"
	OpCollectPayment     authz.OperationID = "collectPayment"
)

// CreateSubscriptionArgs are the arguments of createSubscription. The caller is the payer.
type CreateSubscriptionArgs struct {
	Payee  string `json:"payee" validate:"required"`
	Amount uint64 `json:"amount"`
}

// CollectPaymentArgs are the arguments of collectPayment. The caller is the payee.
type CollectPaymentArgs struct {
	Payer  string `json:"payer" validate:"required"`
	Amount uint64 `json:"amount"`
}

// DefaultManifest returns the subscription plugin's manifest. Both operations
// are delegated to the ownership validator (dependency 0) when reached
// through a user operation and denied when reached directly by the runtime.
func DefaultManifest() *plugins.Manifest {
	var bindings []authz.Binding
	for _, op := range []authz.OperationID{OpCreateSubscription, OpCollectPayment} {
		bindings = append(bindings,
			authz.Binding{Operation: op, Path: authz.PathUserOp, Rule: authz.DelegatedTo(0)},
			authz.Binding{Operation: op, Path: authz.PathRuntime, Rule: authz.AlwaysDeny()},
		)
	}

	return &plugins.Manifest{
		ID:                 PluginID,
		Name:               PluginName,
		Version:            PluginVersion,
		APIVersion:         plugins.CurrentAPIVersion,
		Description:        "Recurring pull payments from subscribers to services",
		Author:             PluginAuthor,
		Dependencies:       []plugins.Dependency{{ID: OwnershipValidatorID, Function: "approve"}},
		ExecutionFunctions: []authz.OperationID{OpCreateSubscription, OpCollectPayment},
		Bindings:           bindings,
		Permissions:        plugins.Permissions{CanSpendNativeToken: true},
	}
}

// Plugin exposes an Engine as an installable plugin
type Plugin struct {
	engine   *Engine
	manifest *plugins.Manifest
}

// NewPlugin wraps engine with the default manifest
func NewPlugin(engine *Engine) *Plugin {
	return &Plugin{
		engine:   engine,
		manifest: DefaultManifest(),
	}
}

// Manifest returns the plugin manifest
func (p *Plugin) Manifest() *plugins.Manifest {
	return p.manifest
}

// Metadata returns the plugin's fixed name, version and author
func (p *Plugin) Metadata() plugins.Metadata {
	return plugins.Metadata{
		Name:    PluginName,
		Version: PluginVersion,
		Author:  PluginAuthor,
	}
}

// Engine returns the wrapped engine
func (p *Plugin) Engine() *Engine {
	return p.engine
}

// Execute dispatches an authorized invocation to the engine
func (p *Plugin) Execute(ctx context.Context, inv plugins.Invocation) (any, error) {
	switch inv.Operation {
	case OpCreateSubscription:
		args, err := argsAs[CreateSubscriptionArgs](inv.Args)
		if err != nil {
			return nil, err
		}
		rec, err := p.engine.CreateSubscription(ctx, inv.Caller, args.Payee, args.Amount)
		if err != nil {
			return nil, err
		}
		return ledger.Entry{Payee: args.Payee, Payer: inv.Caller, Record: rec}, nil

	case OpCollectPayment:
		args, err := argsAs[CollectPaymentArgs](inv.Args)
		if err != nil {
			return nil, err
		}
		return p.engine.CollectPayment(ctx, inv.Caller, args.Payer, args.Amount)

	default:
		return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidArgument, inv.Operation)
	}
}

func argsAs[T any](args any) (T, error) {
	switch v := args.(type) {
	case T:
		return v, nil
	case *T:
		if v != nil {
			return *v, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("%w: expected %T arguments, got %T", ErrInvalidArgument, zero, args)
}
