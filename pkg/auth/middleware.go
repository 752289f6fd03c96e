package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// UnauthorizedFunc writes a 401 response with detail.
type UnauthorizedFunc func(w http.ResponseWriter, detail string)

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Authenticate verifies the bearer token on r and returns the reviewer.
func Authenticate(tokens *ReviewerTokens, r *http.Request) (string, error) {
	if tokens == nil {
		return "", ErrNotConfigured
	}
	raw, ok := BearerToken(r)
	if !ok {
		return "", ErrInvalidToken
	}
	claims, err := tokens.Verify(raw)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// RequireReviewer rejects requests without a valid reviewer token. A nil
// tokens rejects everything.
func RequireReviewer(tokens *ReviewerTokens, unauthorized UnauthorizedFunc) func(http.Handler) http.Handler {
	logger := slog.Default().With("component", "auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokens == nil {
				unauthorized(w, "Reviewer authentication not configured")
				return
			}
			if _, ok := BearerToken(r); !ok {
				unauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}
			subject, err := Authenticate(tokens, r)
			if err != nil {
				logger.WarnContext(r.Context(), "reviewer token rejected", "path", r.URL.Path, "error", err)
				unauthorized(w, "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithReviewer(r.Context(), subject)))
		})
	}
}
