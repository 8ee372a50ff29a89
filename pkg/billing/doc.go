// Package billing implements recurring pull payments between a subscriber
// (payer) and a service (payee).
//
// # Overview
//
// A payer authorizes a fixed per-cycle amount with CreateSubscription. The
// payee later pulls that amount with CollectPayment, at most once per
// DefaultCadence (four weeks). Each collection is one atomic ledger unit: the
// record is checked, LastPaid is advanced and the debit is issued; if any
// step fails nothing is persisted.
//
// # Checks
//
// CollectPayment rejects, in this order:
//
//	ErrSubscriptionNotFound   no record for (payee, payer)
//	ErrAmountMismatch         amount differs from the subscribed amount
//	ErrCadenceNotElapsed      less than one cadence since LastPaid
//	ErrSubscriptionDisabled   record is not enabled
//
// # Usage Example
//
//	engine := billing.NewEngine(ledger.NewMemoryLedger(), runtime.Executor(billing.PluginID),
//		billing.WithLogger(log),
//	)
//
//	_, err := engine.CreateSubscription(ctx, "alice", "streaming-svc", 50)
//	...
//	receipt, err := engine.CollectPayment(ctx, "streaming-svc", "alice", 50)
//	if errors.Is(err, billing.ErrCadenceNotElapsed) {
//		// try again later
//	}
//
// # Plugin
//
// Plugin adapts the engine to the host's plugin interface and carries the
// default manifest binding both operations to the ownership validator on the
// user operation path and denying them on the runtime path.
package billing
