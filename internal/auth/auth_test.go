package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prboard/internal/models"
)

func newTestAuth(t *testing.T) *Authenticator {
	t.Helper()
	a, err := New("test-secret")
	require.NoError(t, err)
	return a
}

func TestNew_RequiresSecret(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestIssueAndVerify(t *testing.T) {
	a := newTestAuth(t)

	token, err := a.Issue("alice", "acme", time.Hour)
	require.NoError(t, err)

	s, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", s.Subject)
	assert.Equal(t, models.TenantSlug("acme"), s.Tenant)
}

func TestIssue_RequiresSubject(t *testing.T) {
	_, err := newTestAuth(t).Issue("", "", time.Hour)
	assert.Error(t, err)
}

func TestVerify_Rejects(t *testing.T) {
	a := newTestAuth(t)
	other, err := New("other-secret")
	require.NoError(t, err)

	expired, err := a.Issue("alice", "", -time.Minute)
	require.NoError(t, err)
	foreign, err := other.Issue("alice", "", time.Hour)
	require.NoError(t, err)
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, Subject: "alice"},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := map[string]string{
		"garbage":      "not-a-jwt",
		"expired":      expired,
		"wrong secret": foreign,
		"no expiry":    noExp,
		"no subject":   noSub,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := a.Verify(token)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestMiddleware(t *testing.T) {
	a := newTestAuth(t)
	var seen *Session
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing header", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/github-reports", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"success":false,"error":"Unauthorized","message":"Authentication required"}`, w.Body.String())
	})

	t.Run("wrong scheme", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Basic abc")
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := a.Issue("bob", "beta", time.Hour)
		require.NoError(t, err)

		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "bob", seen.Subject)
		assert.Equal(t, models.TenantSlug("beta"), seen.Tenant)
	})
}
