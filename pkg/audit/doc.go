// Package audit records subscription lifecycle events, payment collections
// and authorization denials for compliance and forensics.
//
// # Event Types
//
// Subscription: subscription.create
// Payment: payment.collect, payment.rejected
// Authorization: authz.denied
// Plugin: plugin.install, plugin.rebind
//
// # Usage Example
//
//	logger, err := audit.NewFileLogger(audit.FileLoggerConfig{BasePath: "/var/log/pullpay/audit"})
//	if err != nil {
//		return err
//	}
//	defer logger.Close()
//
//	logger.Log(ctx, audit.NewEvent(ctx, audit.EventTypePaymentCollect, audit.EventStatusSuccess).
//		WithParties(payee, payer, amount))
//
// # Sinks
//
// FileLogger: JSON lines with size based rotation
// LogrusLogger: Structured log entries
// MultiLogger: Fan-out to several sinks
package audit
