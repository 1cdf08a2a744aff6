// Package auth guards the ingest and operator surfaces: API keys for machine
// producers (SCADA translators, the anomaly detector), JWT for operator
// sessions.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"golang.org/x/crypto/bcrypt"

	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/config"
)

type contextKey string

const (
	ContextUsername contextKey = "username"
	ContextRole     contextKey = "role"
)

// Claims are the JWT claims issued to operator sessions.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.StandardClaims
}

// Manager validates API keys and operator credentials and issues JWTs.
type Manager struct {
	secret     []byte
	expiration time.Duration
	apiKeys    []string
	users      []config.User
}

func NewManager(cfg config.Config) *Manager {
	return &Manager{
		secret:     []byte(cfg.Auth.JWTSecret),
		expiration: time.Duration(cfg.Auth.JWTExpiration) * time.Minute,
		apiKeys:    cfg.Auth.APIKeys,
		users:      cfg.Auth.Users,
	}
}

// GenerateJWT issues a signed token for an authenticated operator.
func (m *Manager) GenerateJWT(username, role string) (string, error) {
	claims := &Claims{
		Username: username,
		Role:     role,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(m.expiration).Unix(),
			IssuedAt:  time.Now().Unix(),
			Issuer:    "substation-twin",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateJWT parses and verifies a token string.
func (m *Manager) ValidateJWT(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// ValidateAPIKey checks a producer API key in constant time.
func (m *Manager) ValidateAPIKey(apiKey string) bool {
	for _, validKey := range m.apiKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(validKey)) == 1 {
			return true
		}
	}
	return false
}

// AuthenticateUser verifies operator credentials against the configured
// bcrypt hashes and returns the user's role.
func (m *Manager) AuthenticateUser(username, password string) (string, error) {
	for _, user := range m.users {
		if user.Username != username {
			continue
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
			return "", errors.New("invalid password")
		}
		return user.Role, nil
	}
	return "", errors.New("user not found")
}

// HashPassword creates a bcrypt hash for operator provisioning.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), 14)
	return string(bytes), err
}

// APIKeyMiddleware protects machine-producer endpoints.
func (m *Manager) APIKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			http.Error(w, "API key required", http.StatusUnauthorized)
			return
		}
		if !m.ValidateAPIKey(apiKey) {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// JWTMiddleware protects operator endpoints.
func (m *Manager) JWTMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}
		bearerToken := strings.Split(authHeader, " ")
		if len(bearerToken) != 2 || bearerToken[0] != "Bearer" {
			http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
			return
		}
		claims, err := m.ValidateJWT(bearerToken[1])
		if err != nil {
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), ContextUsername, claims.Username)
		ctx = context.WithValue(ctx, ContextRole, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
