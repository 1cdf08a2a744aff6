package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/config"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	hash, err := HashPassword("operator-pass")
	require.NoError(t, err)

	var cfg config.Config
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.JWTExpiration = 60
	cfg.Auth.APIKeys = []string{"valid-key"}
	cfg.Auth.Users = []config.User{{Username: "operator", PasswordHash: hash, Role: "operator"}}
	return NewManager(cfg)
}

func TestJWTRoundTrip(t *testing.T) {
	m := newTestManager(t)

	token, err := m.GenerateJWT("operator", "operator")
	require.NoError(t, err)

	claims, err := m.ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Username)
	assert.Equal(t, "operator", claims.Role)
	assert.Equal(t, "substation-twin", claims.Issuer)
}

func TestValidateJWTRejectsForeignSignature(t *testing.T) {
	m := newTestManager(t)

	var other config.Config
	other.Auth.JWTSecret = "different-secret"
	other.Auth.JWTExpiration = 60
	foreign, err := NewManager(other).GenerateJWT("operator", "operator")
	require.NoError(t, err)

	_, err = m.ValidateJWT(foreign)
	assert.Error(t, err)

	_, err = m.ValidateJWT("not-a-token")
	assert.Error(t, err)
}

func TestValidateAPIKey(t *testing.T) {
	m := newTestManager(t)
	assert.True(t, m.ValidateAPIKey("valid-key"))
	assert.False(t, m.ValidateAPIKey("wrong-key"))
	assert.False(t, m.ValidateAPIKey(""))
}

func TestAuthenticateUser(t *testing.T) {
	m := newTestManager(t)

	role, err := m.AuthenticateUser("operator", "operator-pass")
	require.NoError(t, err)
	assert.Equal(t, "operator", role)

	_, err = m.AuthenticateUser("operator", "wrong-pass")
	assert.Error(t, err)
	_, err = m.AuthenticateUser("ghost", "operator-pass")
	assert.Error(t, err)
}

func TestAPIKeyMiddleware(t *testing.T) {
	m := newTestManager(t)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	protected := m.APIKeyMiddleware(next)

	req := httptest.NewRequest(http.MethodPost, "/data", nil)
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "missing key is rejected")

	req = httptest.NewRequest(http.MethodPost, "/data", nil)
	req.Header.Set("X-API-Key", "wrong-key")
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/data", nil)
	req.Header.Set("X-API-Key", "valid-key")
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJWTMiddleware(t *testing.T) {
	m := newTestManager(t)
	var seenUser, seenRole string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUser, _ = r.Context().Value(ContextUsername).(string)
		seenRole, _ = r.Context().Value(ContextRole).(string)
		w.WriteHeader(http.StatusOK)
	})
	protected := m.JWTMiddleware(next)

	req := httptest.NewRequest(http.MethodPost, "/alerts/x/acknowledge", nil)
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/alerts/x/acknowledge", nil)
	req.Header.Set("Authorization", "Token abc")
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := m.GenerateJWT("operator", "operator")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/alerts/x/acknowledge", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "operator", seenUser)
	assert.Equal(t, "operator", seenRole)
}
