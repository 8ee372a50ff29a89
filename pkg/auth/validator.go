package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jonboulle/clockwork"
	"github.com/platinummonkey/pullpay/pkg/authz"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultIssuer is the issuer expected when none is configured
	DefaultIssuer = "pullpay"

	defaultCacheSize = 1024
	defaultCacheTTL  = 5 * time.Minute
)

// Validator verifies ownership credentials. It implements authz.Authorizer.
type Validator struct {
	secret []byte
	issuer string
	clock  clockwork.Clock
	logger logrus.FieldLogger

	cacheSize int
	cacheTTL  time.Duration
	cache     *lru.LRU[string, *Claims]
}

// Option configures a Validator
type Option func(*Validator)

// WithIssuer sets the issuer tokens are minted with and must carry
func WithIssuer(issuer string) Option {
	return func(v *Validator) {
		v.issuer = issuer
	}
}

// WithClock sets the time source used for issuing and expiry checks
func WithClock(clock clockwork.Clock) Option {
	return func(v *Validator) {
		v.clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// WithCache sizes the verified-token cache. A size of 0 disables caching.
func WithCache(size int, ttl time.Duration) Option {
	return func(v *Validator) {
		v.cacheSize = size
		v.cacheTTL = ttl
	}
}

// NewValidator creates a validator for tokens signed with secret
func NewValidator(secret []byte, opts ...Option) (*Validator, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("signing secret is required")
	}

	v := &Validator{
		secret:    secret,
		issuer:    DefaultIssuer,
		clock:     clockwork.NewRealClock(),
		logger:    logrus.StandardLogger(),
		cacheSize: defaultCacheSize,
		cacheTTL:  defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(v)
	}

	if v.cacheSize > 0 {
		v.cache = lru.NewLRU[string, *Claims](v.cacheSize, nil, v.cacheTTL)
	}

	return v, nil
}

// Verify checks token's signature, issuer and expiry and returns its claims
func (v *Validator) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingCredential
	}

	key := HashToken(token)
	if v.cache != nil {
		if claims, ok := v.cache.Get(key); ok {
			if claims.ExpiresAt == nil || !v.clock.Now().Before(claims.ExpiresAt.Time) {
				v.cache.Remove(key)
				return nil, fmt.Errorf("%w: %w", ErrInvalidToken, jwt.ErrTokenExpired)
			}
			return claims, nil
		}
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) {
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if v.cache != nil {
		v.cache.Add(key, claims)
	}
	return claims, nil
}

// Approve approves req when its credential is a valid token for the caller
// that allows the requested operation. Credential problems are rejections.
func (v *Validator) Approve(ctx context.Context, req authz.Request) (bool, error) {
	log := v.logger.WithFields(logrus.Fields{
		"operation": req.Operation,
		"caller":    req.Caller,
	})

	claims, err := v.Verify(req.Credential)
	if err != nil {
		log.WithError(err).Debug("Credential rejected")
		return false, nil
	}
	if claims.Subject != req.Caller {
		log.WithField("subject", claims.Subject).Debug("Credential subject does not match caller")
		return false, nil
	}
	if !claims.Allows(req.Operation) {
		log.Debug("Credential does not allow operation")
		return false, nil
	}

	return true, nil
}

// CachedTokens returns the number of verified tokens held in the cache
func (v *Validator) CachedTokens() int {
	if v.cache == nil {
		return 0
	}
	return v.cache.Len()
}
