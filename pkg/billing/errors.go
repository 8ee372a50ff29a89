package billing

import "errors"

var (
	// ErrSubscriptionNotFound is returned when collecting from a pair without a record
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrAmountMismatch is returned when the requested amount differs from the subscribed amount
	ErrAmountMismatch = errors.New("amount mismatch")

	// ErrCadenceNotElapsed is returned when collecting before the cadence interval has passed
	ErrCadenceNotElapsed = errors.New("cadence not elapsed")

	// ErrSubscriptionDisabled is returned when the record exists but is not enabled
	ErrSubscriptionDisabled = errors.New("subscription disabled")

	// ErrInvalidArgument is returned for empty identities or malformed invocation arguments
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDebitFailed wraps failures reported by the Debiter
	ErrDebitFailed = errors.New("debit failed")
)
