package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/platinummonkey/pullpay/pkg/authz"
)

// BearerPrefix precedes credentials in Authorization headers
const BearerPrefix = "Bearer "

var (
	// ErrMissingCredential is returned when no credential was presented
	ErrMissingCredential = errors.New("missing credential")

	// ErrInvalidToken is returned for tokens that fail verification
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the claims carried by an ownership credential
type Claims struct {
	Operations []authz.OperationID `json:"ops,omitempty"`
	jwt.RegisteredClaims
}

// Allows reports whether the claims permit op
func (c *Claims) Allows(op authz.OperationID) bool {
	return len(c.Operations) == 0 || slices.Contains(c.Operations, op)
}

// HashToken computes the SHA256 hash of a token for lookup
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ExtractBearer returns the token from an Authorization header value
func ExtractBearer(header string) (string, error) {
	if header == "" {
		return "", ErrMissingCredential
	}
	if !strings.HasPrefix(header, BearerPrefix) {
		return "", fmt.Errorf("%w: authorization header must use the Bearer scheme", ErrInvalidToken)
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, BearerPrefix))
	if token == "" {
		return "", ErrMissingCredential
	}
	return token, nil
}

// Issue mints a credential for subject valid for ttl. ops, if given,
// restricts the operations the credential approves.
func (v *Validator) Issue(subject string, ttl time.Duration, ops ...authz.OperationID) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive")
	}

	now := v.clock.Now()
	claims := Claims{
		Operations: ops,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
