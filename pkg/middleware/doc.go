// Package middleware throttles API requests.
//
// Two limiters are provided: RateLimiter, an in-process token bucket, and
// DistributedRateLimiter, a fixed window counter kept in Redis so that
// several pullpayd instances share one budget. Both plug into the router
// through RateLimit:
//
//	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
//	limiter.StartCleanup(ctx)
//	v1.Use(middleware.RateLimit(limiter, middleware.ByCredential, logger))
//
// Requests are keyed by a hash of their bearer credential, falling back to
// the client address for anonymous requests.
package middleware
