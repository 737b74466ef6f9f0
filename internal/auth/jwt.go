// Package auth - jwt.go issues and verifies the bearer tokens handed to organization
// admins at login. Tokens are HS256-signed and carry the admin's organization scope.
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

// DefaultTokenTTL is used when the service is built with a zero TTL.
const DefaultTokenTTL = 6 * time.Hour

var (
	// ErrInvalidToken covers bad signatures, expiry, wrong algorithm and malformed input.
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingClaims is returned for a well-signed token lacking organization scope.
	ErrMissingClaims = errors.New("token is missing required claims")
	// ErrNoSecret is returned outside dev mode when no signing secret is configured.
	ErrNoSecret = errors.New("SECURITY ERROR: a JWT secret is required in production. " +
		"Set auth.jwt_secret or ORGSTORE_JWT_SECRET (generate one with: openssl rand -hex 32)")
)

// Claims represents the JWT claims structure
type Claims struct {
	AdminID          string `json:"admin_id"`
	OrganizationName string `json:"organization_name"`
	StorageKey       string `json:"storage_key"`
	jwt.RegisteredClaims
}

// isDevMode checks if we're in development mode
func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	ginMode := os.Getenv("GIN_MODE")
	return devMode == "true" || devMode == "1" || ginMode == "debug"
}

// generateRandomSecret creates a cryptographically secure random secret
func generateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// ResolveSecret picks the signing secret: the configured value, then
// ORGSTORE_JWT_SECRET, then a random secret in dev mode. Outside dev mode a
// missing secret is an error so the server refuses to start.
func ResolveSecret(configured string) (string, error) {
	secret := configured
	if secret == "" {
		secret = os.Getenv("ORGSTORE_JWT_SECRET")
	}

	if secret == "" {
		if !isDevMode() {
			return "", ErrNoSecret
		}
		slog.Warn("JWT secret not set, using auto-generated secret for development; tokens will not survive a restart")
		return generateRandomSecret(), nil
	}

	if len(secret) < 32 {
		slog.Warn("JWT secret is shorter than the recommended 32 characters")
	}
	return secret, nil
}

// TokenService signs and validates admin bearer tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewTokenService creates a token service. A zero ttl falls back to DefaultTokenTTL.
func NewTokenService(secret string, ttl time.Duration, issuer string) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, issuer: issuer, now: time.Now}
}

// TTL returns the lifetime given to newly issued tokens.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// Issue creates a token scoped to one organization.
func (s *TokenService) Issue(adminID, organizationName, storageKey string) (string, error) {
	now := s.now()
	claims := &Claims{
		AdminID:          adminID,
		OrganizationName: organizationName,
		StorageKey:       storageKey,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Subject:   adminID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate parses a token, checks signature, algorithm and expiry, and
// requires the admin and organization claims to be present.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.AdminID == "" || claims.OrganizationName == "" || claims.StorageKey == "" {
		return nil, ErrMissingClaims
	}
	return claims, nil
}
