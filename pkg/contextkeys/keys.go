// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/pullpay/pkg/contextkeys"
//	ctx = contextkeys.WithRequestID(ctx, id)
//	id := contextkeys.RequestID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit trail, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// CallerKey contains the account that initiated the invocation
	// Set by: host.Runtime.Invoke
	// Used by: Logger, audit trail
	// Type: string
	CallerKey Key = "caller"

	// LoggerKey contains logrus.FieldLogger
	// Set by: observability.WithLogger
	// Used by: Handlers that need structured logging with request context
	// Type: logrus.FieldLogger
	LoggerKey Key = "logger"

	// InvocationKey marks a context as running inside a host invocation
	// Set by: host.Runtime.Invoke
	// Used by: host.Runtime to let re-entrant calls skip the invocation lock
	// Type: any (runtime pointer)
	InvocationKey Key = "invocation"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithCaller adds the invoking account to the context
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, CallerKey, caller)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithInvocation marks ctx as belonging to an invocation of owner
func WithInvocation(ctx context.Context, owner interface{}) context.Context {
	return context.WithValue(ctx, InvocationKey, owner)
}

// RequestID retrieves request ID from context
func RequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// Caller retrieves the invoking account from context
func Caller(ctx context.Context) string {
	if caller, ok := ctx.Value(CallerKey).(string); ok {
		return caller
	}
	return ""
}

// InInvocation reports whether ctx runs inside an invocation of owner
func InInvocation(ctx context.Context, owner interface{}) bool {
	return ctx.Value(InvocationKey) == owner
}
