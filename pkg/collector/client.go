package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/pullpay/pkg/api"
	"github.com/platinummonkey/pullpay/pkg/auth"
	"github.com/platinummonkey/pullpay/pkg/authz"
	"github.com/platinummonkey/pullpay/pkg/billing"
	"github.com/platinummonkey/pullpay/pkg/host"
)

// Client is the view of the subscription plugin a Collector needs.
// *api.Client satisfies it.
type Client interface {
	Subscribers(ctx context.Context, payee string) ([]api.SubscriptionView, error)
	CollectPayment(ctx context.Context, payee, payer string, amount uint64) (*billing.Receipt, error)
}

var (
	_ Client = (*api.Client)(nil)
	_ Client = (*LocalClient)(nil)
)

// TokenSource returns the credential presented on behalf of payee
type TokenSource func(payee string) (string, error)

// StaticToken always presents token
func StaticToken(token string) TokenSource {
	return func(string) (string, error) {
		return token, nil
	}
}

// IssuedTokens mints a short-lived token per payee, scoped to collectPayment
func IssuedTokens(v *auth.Validator, ttl time.Duration) TokenSource {
	return func(payee string) (string, error) {
		return v.Issue(payee, ttl, billing.OpCollectPayment)
	}
}

// LocalClient calls an in-process runtime. Collections go through
// Runtime.Invoke so they are authorized exactly like remote user operations.
type LocalClient struct {
	runtime *host.Runtime
	engine  *billing.Engine
	tokens  TokenSource
}

// NewLocalClient creates a client for the subscription plugin installed in rt
func NewLocalClient(rt *host.Runtime, engine *billing.Engine, tokens TokenSource) *LocalClient {
	return &LocalClient{
		runtime: rt,
		engine:  engine,
		tokens:  tokens,
	}
}

// Subscribers lists payee's subscriptions with their due dates
func (c *LocalClient) Subscribers(ctx context.Context, payee string) ([]api.SubscriptionView, error) {
	entries, err := c.engine.Subscribers(ctx, payee)
	if err != nil {
		return nil, err
	}

	now, cadence := c.engine.Now(), c.engine.Cadence()
	views := make([]api.SubscriptionView, 0, len(entries))
	for _, e := range entries {
		views = append(views, api.NewView(e, now, cadence))
	}
	return views, nil
}

// CollectPayment invokes collectPayment as payee
func (c *LocalClient) CollectPayment(ctx context.Context, payee, payer string, amount uint64) (*billing.Receipt, error) {
	token, err := c.tokens(payee)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain credential for %s: %w", payee, err)
	}

	out, err := c.runtime.Invoke(ctx, host.Call{
		PluginID:   billing.PluginID,
		Operation:  billing.OpCollectPayment,
		Path:       authz.PathUserOp,
		Caller:     payee,
		Args:       billing.CollectPaymentArgs{Payer: payer, Amount: amount},
		Credential: token,
	})
	if err != nil {
		return nil, err
	}

	receipt, ok := out.(*billing.Receipt)
	if !ok {
		return nil, fmt.Errorf("unexpected collectPayment result %T", out)
	}
	return receipt, nil
}
