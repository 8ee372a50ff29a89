package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/platinummonkey/pullpay/pkg/authz"
	"github.com/platinummonkey/pullpay/pkg/billing"
	"github.com/platinummonkey/pullpay/pkg/host"
	"github.com/platinummonkey/pullpay/pkg/ledger"
)

// Error codes returned in error bodies
const (
	CodeUnauthorized         = "unauthorized"
	CodePermissionDenied     = "permission_denied"
	CodePluginNotInstalled   = "plugin_not_installed"
	CodeSubscriptionNotFound = "subscription_not_found"
	CodeAmountMismatch       = "amount_mismatch"
	CodeCadenceNotElapsed    = "cadence_not_elapsed"
	CodeSubscriptionDisabled = "subscription_disabled"
	CodeConflict             = "conflict"
	CodeInsufficientFunds    = "insufficient_funds"
	CodeDebitFailed          = "debit_failed"
	CodeInvalidArgument      = "invalid_argument"
	CodeInternal             = "internal"
)

// errorMapping is checked in order; more specific causes come before the
// errors that wrap them
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{authz.ErrUnauthorized, http.StatusForbidden, CodeUnauthorized},
	{host.ErrPermissionDenied, http.StatusForbidden, CodePermissionDenied},
	{host.ErrPluginNotInstalled, http.StatusNotFound, CodePluginNotInstalled},
	{billing.ErrSubscriptionNotFound, http.StatusNotFound, CodeSubscriptionNotFound},
	{billing.ErrAmountMismatch, http.StatusUnprocessableEntity, CodeAmountMismatch},
	{billing.ErrCadenceNotElapsed, http.StatusConflict, CodeCadenceNotElapsed},
	{billing.ErrSubscriptionDisabled, http.StatusConflict, CodeSubscriptionDisabled},
	{ledger.ErrConflict, http.StatusConflict, CodeConflict},
	{host.ErrInsufficientFunds, http.StatusPaymentRequired, CodeInsufficientFunds},
	{billing.ErrDebitFailed, http.StatusBadGateway, CodeDebitFailed},
	{billing.ErrInvalidArgument, http.StatusBadRequest, CodeInvalidArgument},
}

// statusFor maps an error to its HTTP status and code
func statusFor(err error) (int, string) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

// Error is an error response received by Client. It unwraps to the
// sentinel error matching its code, so callers can use errors.Is with the
// same sentinels as in-process callers.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Unwrap returns the sentinel error for e's code, nil if none
func (e *Error) Unwrap() error {
	for _, m := range errorMapping {
		if m.code == e.Code {
			return m.err
		}
	}
	return nil
}
