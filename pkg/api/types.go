package api

import (
	"time"

	"github.com/platinummonkey/pullpay/pkg/billing"
	"github.com/platinummonkey/pullpay/pkg/ledger"
	"github.com/platinummonkey/pullpay/pkg/plugins"
)

// InvocationRequest is the body of POST /v1/userops and POST /v1/runtime.
// Payee is read by createSubscription and Payer by collectPayment.
type InvocationRequest struct {
	Operation string `json:"operation" validate:"required,max=64"`
	Caller    string `json:"caller" validate:"required,max=256"`
	Payee     string `json:"payee,omitempty" validate:"max=256"`
	Payer     string `json:"payer,omitempty" validate:"max=256"`
	Amount    uint64 `json:"amount"`
}

// InvocationResponse wraps the result of an approved invocation
type InvocationResponse struct {
	Operation string      `json:"operation"`
	Result    interface{} `json:"result"`
}

// SubscriptionView is a subscription record with its derived due dates
type SubscriptionView struct {
	Payee    string `json:"payee"`
	Payer    string `json:"payer"`
	Amount   uint64 `json:"amount"`
	LastPaid uint64 `json:"last_paid"`
	Enabled  bool   `json:"enabled"`
	NextDue  uint64 `json:"next_due"`
	Due      bool   `json:"due"`
}

// SubscriptionList is the response of GET /v1/subscriptions/{payee}
type SubscriptionList struct {
	Payee         string             `json:"payee"`
	Subscriptions []SubscriptionView `json:"subscriptions"`
}

// PluginResponse describes the installed subscription plugin
type PluginResponse struct {
	Metadata    plugins.Metadata  `json:"metadata"`
	Manifest    *plugins.Manifest `json:"manifest"`
	InstalledAt time.Time         `json:"installed_at"`
	Source      string            `json:"source"`
}

// BalanceResponse is the response of GET /v1/accounts/{account}/balance
type BalanceResponse struct {
	Account string `json:"account"`
	Balance uint64 `json:"balance"`
}

// NewView derives the due dates of e at now
func NewView(e ledger.Entry, now, cadence uint64) SubscriptionView {
	return SubscriptionView{
		Payee:    e.Payee,
		Payer:    e.Payer,
		Amount:   e.Record.Amount,
		LastPaid: e.Record.LastPaid,
		Enabled:  e.Record.Enabled,
		NextDue:  billing.NextDue(e.Record, cadence),
		Due:      e.Record.Enabled && billing.Due(e.Record, now, cadence),
	}
}
