package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReviewerTokens_RequiresSecret(t *testing.T) {
	for _, s := range []string{"", "   "} {
		_, err := NewReviewerTokens(s)
		assert.ErrorIs(t, err, ErrNotConfigured)
	}
}

func TestMintVerify(t *testing.T) {
	tokens, err := NewReviewerTokens("root-secret")
	require.NoError(t, err)

	tok, err := tokens.Mint("alice@example.com", time.Hour)
	require.NoError(t, err)

	claims, err := tokens.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", claims.Subject)
	assert.Equal(t, Issuer, claims.Issuer)
	assert.Equal(t, ScopeDecide, claims.Scope)

	_, err = tokens.Mint("  ", time.Hour)
	assert.Error(t, err)
}

func TestVerify_DerivedKeyIsSecretSpecific(t *testing.T) {
	a, err := NewReviewerTokens("secret-a")
	require.NoError(t, err)
	b, err := NewReviewerTokens("secret-b")
	require.NoError(t, err)

	tok, err := a.Mint("alice", time.Hour)
	require.NoError(t, err)
	_, err = b.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// The root secret is not the signing key.
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, ReviewerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   "mallory",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Scope: ScopeDecide,
	}).SignedString([]byte("secret-a"))
	require.NoError(t, err)
	_, err = a.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Expired(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	tokens, err := NewReviewerTokens("root-secret")
	require.NoError(t, err)
	tokens.WithClock(func() time.Time { return now })

	tok, err := tokens.Mint("alice", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = tokens.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RejectsWrongAlgAndScope(t *testing.T) {
	tokens, err := NewReviewerTokens("root-secret")
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, ReviewerClaims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: Issuer, Subject: "mallory",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		Scope: ScopeDecide,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tokens.Verify(none)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongScope, err := jwt.NewWithClaims(jwt.SigningMethodHS256, ReviewerClaims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: Issuer, Subject: "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		Scope: "read",
	}).SignedString(tokens.key)
	require.NoError(t, err)
	_, err = tokens.Verify(wrongScope)
	assert.ErrorIs(t, err, ErrInvalidToken)

	var nilTokens *ReviewerTokens
	_, err = nilTokens.Verify("x")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRequireReviewer(t *testing.T) {
	tokens, err := NewReviewerTokens("root-secret")
	require.NoError(t, err)
	good, err := tokens.Mint("alice", time.Hour)
	require.NoError(t, err)

	var gotDetail string
	unauthorized := func(w http.ResponseWriter, detail string) {
		gotDetail = detail
		w.WriteHeader(http.StatusUnauthorized)
	}
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ReviewerFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name   string
		tokens *ReviewerTokens
		header string
		want   int
		detail string
	}{
		{"valid", tokens, "Bearer " + good, http.StatusOK, ""},
		{"missing header", tokens, "", http.StatusUnauthorized, "Invalid Authorization header format (expected 'Bearer <token>')"},
		{"basic scheme", tokens, "Basic abc", http.StatusUnauthorized, "Invalid Authorization header format (expected 'Bearer <token>')"},
		{"garbage token", tokens, "Bearer not-a-jwt", http.StatusUnauthorized, "Invalid or expired token"},
		{"not configured", nil, "Bearer " + good, http.StatusUnauthorized, "Reviewer authentication not configured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotDetail, seen = "", ""
			req := httptest.NewRequest(http.MethodPost, "/api/v1/gate/approvals/x/decision", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			RequireReviewer(tt.tokens, unauthorized)(next).ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, tt.detail, gotDetail)
			if tt.want == http.StatusOK {
				assert.Equal(t, "alice", seen)
			}
		})
	}
}

func TestReviewerFrom_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := ReviewerFrom(req.Context())
	assert.False(t, ok)
	_, ok = ReviewerFrom(WithReviewer(req.Context(), ""))
	assert.False(t, ok)
}
