// Package auth authenticates human reviewers who decide escalated requests.
package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const (
	// Issuer is the iss claim on every reviewer token.
	Issuer = "gate"
	// ScopeDecide authorizes approval decisions.
	ScopeDecide = "approval:decide"
	// DefaultTokenTTL bounds tokens minted without an explicit lifetime.
	DefaultTokenTTL = 12 * time.Hour

	hkdfInfo = "gate-reviewer"
)

var (
	ErrNotConfigured = errors.New("auth: reviewer authentication not configured")
	ErrInvalidToken  = errors.New("auth: invalid reviewer token")
)

// ReviewerClaims are the JWT claims carried by a reviewer token.
type ReviewerClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// ReviewerTokens mints and verifies HS256 reviewer tokens. The signing key is
// derived from a root secret so the secret itself never signs anything.
type ReviewerTokens struct {
	key   []byte
	clock func() time.Time
}

// NewReviewerTokens derives the signing key from secret. An empty secret
// returns ErrNotConfigured.
func NewReviewerTokens(secret string) (*ReviewerTokens, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrNotConfigured
	}
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("auth: HKDF derivation failed: %w", err)
	}
	return &ReviewerTokens{key: key, clock: time.Now}, nil
}

// WithClock overrides the clock for deterministic testing.
func (t *ReviewerTokens) WithClock(clock func() time.Time) *ReviewerTokens {
	t.clock = clock
	return t
}

// Mint issues a token for subject valid for ttl (DefaultTokenTTL if zero).
func (t *ReviewerTokens) Mint(subject string, ttl time.Duration) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("auth: subject is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := t.clock()
	claims := ReviewerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scope: ScopeDecide,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("auth: sign: %w", err)
	}
	return signed, nil
}

// Verify parses token and returns its claims. Only HS256 tokens issued by
// this gate with the decide scope and a subject are accepted.
func (t *ReviewerTokens) Verify(token string) (*ReviewerClaims, error) {
	if t == nil {
		return nil, ErrNotConfigured
	}
	claims := &ReviewerClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return t.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidToken)
	}
	if claims.Scope != ScopeDecide {
		return nil, fmt.Errorf("%w: scope %q", ErrInvalidToken, claims.Scope)
	}
	return claims, nil
}
