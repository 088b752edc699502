// ABOUTME: Unit tests for token discovery, local expiry checks, and HS256 verification
// ABOUTME: Tests env/file precedence, opaque tokens, valid and expired JWTs

package auth

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-for-jwt-signing")

func TestDiscover_Precedence(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("from-file\n"), 0600))

	t.Setenv(TokenEnvVar, "from-env")
	token, err := Discover(" explicit ", tokenFile)
	require.NoError(t, err)
	assert.Equal(t, "explicit", token)

	token, err = Discover("", tokenFile)
	require.NoError(t, err)
	assert.Equal(t, "from-env", token)

	t.Setenv(TokenEnvVar, "")
	token, err = Discover("", tokenFile)
	require.NoError(t, err)
	assert.Equal(t, "from-file", token)
}

func TestDiscover_NoToken(t *testing.T) {
	t.Setenv(TokenEnvVar, "")

	_, err := Discover("", filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrNoToken)

	empty := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0600))
	_, err = Discover("", empty)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestDefaultTokenPath_UsesXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, filepath.Join("/tmp/xdg", "coven", "token"), DefaultTokenPath())
}

func TestCheckExpiry(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	now := time.Now()

	valid, err := v.Generate("user-1", time.Hour)
	require.NoError(t, err)
	expired, err := v.Generate("user-1", -time.Hour)
	require.NoError(t, err)

	assert.NoError(t, CheckExpiry(valid, now))
	assert.ErrorIs(t, CheckExpiry(expired, now), ErrExpiredToken)
	assert.NoError(t, CheckExpiry("opaque-api-key", now))
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	token, err := verifier.Generate("principal-123", time.Hour)
	require.NoError(t, err)

	gotID, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "principal-123", gotID)
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	otherToken, err := NewJWTVerifier([]byte("different-secret")).Generate("principal-123", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"garbage token", "not-a-jwt-token"},
		{"malformed JWT", "header.payload.signature"},
		{"wrong secret", otherToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	token, err := verifier.Generate("principal-123", -time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestHTTPAuthMiddleware(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	token, err := verifier.Generate("user-7", time.Hour)
	require.NoError(t, err)

	var seen string
	handler := HTTPAuthMiddleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Equal(t, "user-7", seen)
}
