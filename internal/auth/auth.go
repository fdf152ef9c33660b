// Package auth provides optional JWT bearer authentication for the query
// API. Tokens are minted out-of-band with the shared secret.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	jwtSecret   []byte
	authEnabled bool
)

// Initialize configures the package. With enabled=false the middleware
// passes every request through.
func Initialize(secret string, enabled bool) {
	jwtSecret = []byte(secret)
	authEnabled = enabled
}

// IsEnabled reports whether authentication is active.
func IsEnabled() bool {
	return authEnabled && len(jwtSecret) > 0
}

// Claims are the token claims specsearch issues and validates.
type Claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// GenerateToken mints a token for subject, valid for ttl.
func GenerateToken(subject string, ttl time.Duration) (string, error) {
	if len(jwtSecret) == 0 {
		return "", errors.New("auth: jwt secret not configured")
	}
	claims := Claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
}

// ValidateToken parses and verifies a token, returning its subject.
func ValidateToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return jwtSecret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", errors.New("auth: invalid token")
	}
	return claims.Subject, nil
}

// Middleware enforces bearer authentication when enabled; otherwise it is a
// pass-through.
func Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !IsEnabled() {
			next(w, r)
			return
		}

		var tokenString string
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			tokenString = strings.TrimPrefix(h, "Bearer ")
		} else if cookie, err := r.Cookie("auth_token"); err == nil {
			tokenString = cookie.Value
		}
		if tokenString == "" {
			http.Error(w, "No authentication token", http.StatusUnauthorized)
			return
		}
		if _, err := ValidateToken(tokenString); err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
