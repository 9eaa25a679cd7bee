package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-secret"
	testIssuer = "courier"
)

func mintToken(t *testing.T, secret, issuer, uid string, ttl time.Duration) string {
	t.Helper()
	claims := Claims{
		UserID: uid,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func authedRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAuthRequire(t *testing.T) {
	auth := NewAuth(testSecret, testIssuer)
	userID := uuid.New()

	var gotUser uuid.UUID
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserID(r)
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("valid_token_passes_user_to_context", func(t *testing.T) {
		rec := httptest.NewRecorder()
		auth.Require(next).ServeHTTP(rec, authedRequest(mintToken(t, testSecret, testIssuer, userID.String(), time.Hour)))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, userID, gotUser)
	})

	t.Run("missing_header_is_unauthorized", func(t *testing.T) {
		rec := httptest.NewRecorder()
		auth.Require(next).ServeHTTP(rec, authedRequest(""))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		var body map[string]map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "unauthorized", body["error"]["code"])
	})

	t.Run("wrong_secret_is_rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		auth.Require(next).ServeHTTP(rec, authedRequest(mintToken(t, "other-secret", testIssuer, userID.String(), time.Hour)))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired_token_is_rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		// past the 30s leeway
		auth.Require(next).ServeHTTP(rec, authedRequest(mintToken(t, testSecret, testIssuer, userID.String(), -2*time.Minute)))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong_issuer_is_rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		auth.Require(next).ServeHTTP(rec, authedRequest(mintToken(t, testSecret, "someone-else", userID.String(), time.Hour)))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed_uid_is_rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		auth.Require(next).ServeHTTP(rec, authedRequest(mintToken(t, testSecret, testIssuer, "not-a-uuid", time.Hour)))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unsigned_alg_is_rejected", func(t *testing.T) {
		claims := Claims{UserID: userID.String(), RegisteredClaims: jwt.RegisteredClaims{Issuer: testIssuer}}
		raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		auth.Require(next).ServeHTTP(rec, authedRequest(raw))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestUserIDWithoutAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, uuid.Nil, UserID(req))
}
