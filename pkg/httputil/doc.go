// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Responses
//
//	httputil.WriteSuccess(w, receipt)
//	httputil.WriteCodedError(w, http.StatusConflict, "cadence_not_elapsed", err)
//
// Error bodies share one shape:
//
//	{"error": "...", "code": "...", "details": {"payee": "is required"}}
//
// # Requests
//
// DecodeAndValidate decodes a JSON body (unknown fields rejected, size
// bounded) and applies go-playground/validator tags, writing a 400 with
// per-field details on failure:
//
//	var req UserOpRequest
//	if !httputil.DecodeAndValidate(w, r, &req) {
//		return
//	}
//
// # Middleware
//
// RequestIDMiddleware, LoggingMiddleware and RecoveryMiddleware are meant to
// be installed on a gorilla/mux router in that order.
package httputil
