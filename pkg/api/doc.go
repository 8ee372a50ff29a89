// Package api exposes the subscription plugin over HTTP.
//
// # Endpoints
//
//	POST /v1/userops                          invoke on the user operation path (Bearer credential)
//	POST /v1/runtime                          invoke on the runtime path
//	GET  /v1/subscriptions/{payee}            list a payee's subscriptions
//	GET  /v1/subscriptions/{payee}/{payer}    read one subscription
//	GET  /v1/plugin                           plugin metadata and manifest
//	GET  /v1/accounts/{account}/balance       account balance
//	GET  /healthz, /readyz, /metrics
//
// Invocation bodies name the operation and its arguments:
//
//	{"operation": "collectPayment", "caller": "streaming-svc", "payer": "alice", "amount": 50}
//
// # Errors
//
// Failures carry a code alongside the message. Denied authorization is 403,
// a missing subscription 404, an amount mismatch 422, an early or disabled
// collection 409 and insufficient funds 402.
//
// Client decodes these into *Error, which unwraps to the matching sentinel
// error so errors.Is(err, billing.ErrCadenceNotElapsed) works across the
// wire.
package api
