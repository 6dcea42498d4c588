package daemon

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenAuth guards the HTTP endpoints with a bearer token. Only the bcrypt
// hash of the token is kept in the configuration.
type TokenAuth struct {
	hash []byte
}

// NewTokenAuth checks that hash is a bcrypt hash
func NewTokenAuth(hash string) (*TokenAuth, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("token_hash is not a bcrypt hash: %w", err)
	}
	return &TokenAuth{hash: []byte(hash)}, nil
}

// Validate compares token against the stored hash
func (a *TokenAuth) Validate(token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(token)); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// Middleware rejects requests without a valid bearer token. /healthz stays
// open for load balancers and supervisors.
func (a *TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || a.Validate(token) != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="watch-and-recover"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GenerateToken returns a random token and the bcrypt hash to configure
func GenerateToken() (token, hash string, err error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}
	token = base64.URLEncoding.EncodeToString(tokenBytes)

	hashed, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash token: %w", err)
	}
	return token, string(hashed), nil
}
