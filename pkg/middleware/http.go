package middleware

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/pullpay/pkg/auth"
	"github.com/platinummonkey/pullpay/pkg/httputil"
	"github.com/sirupsen/logrus"
)

// CodeRateLimited is the error code of a throttled request
const CodeRateLimited = "rate_limited"

// ErrRateLimited is reported to throttled clients
var ErrRateLimited = errors.New("rate limit exceeded")

// KeyFunc derives the rate limit key of a request
type KeyFunc func(r *http.Request) string

// ByCredential keys requests by a hash of their bearer credential, or by
// client address when there is none. Raw credentials never reach the
// limiter's storage.
func ByCredential(r *http.Request) string {
	if token, err := auth.ExtractBearer(r.Header.Get("Authorization")); err == nil {
		return "cred:" + auth.HashToken(token)
	}
	return ByClientIP(r)
}

// ByClientIP keys requests by client address
func ByClientIP(r *http.Request) string {
	return "ip:" + clientIP(r.RemoteAddr, r.Header.Get("X-Forwarded-For"), r.Header.Get("X-Real-IP"))
}

// RateLimit rejects requests over limiter's budget with 429. When the
// limiter itself fails the request is let through.
func RateLimit(limiter Limiter, key KeyFunc, logger logrus.FieldLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)

			d, err := limiter.Allow(r.Context(), k)
			if err != nil {
				logger.WithError(err).Warn("Rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			setHeaders(w, d)
			if !d.Allowed {
				retryAfter := int(math.Ceil(time.Until(d.Reset).Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				logger.WithFields(logrus.Fields{
					"key":  k,
					"path": r.URL.Path,
				}).Info("Request rate limited")
				httputil.WriteCodedError(w, http.StatusTooManyRequests, CodeRateLimited, ErrRateLimited)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setHeaders(w http.ResponseWriter, d Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
}
