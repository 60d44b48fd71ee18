// Package auth - jwt.go signs and verifies the HS256 bearer tokens that identify API callers.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "huddle"

// ErrSecretRequired is returned when no signing secret is configured outside dev mode.
var ErrSecretRequired = errors.New("auth.jwt_secret is required outside development mode; " +
	"generate one with: openssl rand -hex 32")

// Claims represents the JWT claims structure
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates caller tokens with a shared secret
type TokenManager struct {
	secret []byte
}

// isDevMode reports whether the process runs in a local development setup
func isDevMode() bool {
	devMode := os.Getenv("HUDDLE_DEV_MODE")
	return devMode == "true" || devMode == "1" || os.Getenv("GIN_MODE") == "debug"
}

// generateRandomSecret creates a cryptographically secure random secret
func generateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewTokenManager creates a TokenManager. An empty secret is only accepted in dev mode, where a
// random one is generated and tokens do not survive a restart.
func NewTokenManager(secret string) (*TokenManager, error) {
	if secret == "" {
		if !isDevMode() {
			return nil, ErrSecretRequired
		}
		generated, err := generateRandomSecret()
		if err != nil {
			return nil, err
		}
		slog.Warn("auth.jwt_secret not set; using a generated development secret")
		secret = generated
	}

	if len(secret) < 32 {
		slog.Warn("auth.jwt_secret is shorter than the recommended 32 characters")
	}

	return &TokenManager{secret: []byte(secret)}, nil
}

// Generate creates a token for userID. A zero expiresIn defaults to one hour.
func (m *TokenManager) Generate(userID, email string, expiresIn time.Duration) (string, error) {
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   userID,
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Validate parses and validates a token
func (m *TokenManager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no user_id claim")
	}

	return claims, nil
}
