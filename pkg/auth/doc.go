// Package auth provides the ownership validator that approves user operations
// on behalf of account owners.
//
// # Overview
//
// Credentials are HS256-signed JWTs. A credential approves a call when its
// subject is the calling account, its issuer matches the validator's and it
// has not expired. A token may also carry an "ops" claim listing the
// operations it may be used for; an empty list allows every operation.
//
//	v, err := auth.NewValidator([]byte(secret), auth.WithIssuer("pullpay"))
//	token, err := v.Issue("alice", time.Hour, billing.OpCreateSubscription)
//
// Validator implements authz.Authorizer and is installed as the subscription
// plugin's dependency 0:
//
//	rt.Install(billing.NewPlugin(engine), []authz.Authorizer{v})
//
// # Caching
//
// Verified tokens are cached by their SHA256 hash in an expirable LRU so
// repeated calls with the same credential skip signature verification.
// Expiry is still checked against the validator's clock on every hit.
//
// Invalid, expired or missing credentials are a rejection, not an error:
// Approve returns false with a nil error so the binder denies the call.
package auth
