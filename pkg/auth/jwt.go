// Package auth issues and validates the bearer tokens that guard the HTTP
// binding. Tokens are HS256 JWTs carrying a role: readers may list and read,
// writers may also write, delete, erase and compact.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dd0wney/cluso-flashkv/pkg/status"
)

// MinSecretLength is the shortest accepted signing secret.
const MinSecretLength = 32

const issuer = "flashkv"

// Roles
const (
	RoleReader = "reader"
	RoleWriter = "writer"
)

var (
	ErrShortSecret  = fmt.Errorf("%w: secret must be at least %d characters", status.ErrInvalidArgument, MinSecretLength)
	ErrInvalidRole  = fmt.Errorf("%w: role must be %q or %q", status.ErrInvalidArgument, RoleReader, RoleWriter)
	ErrEmptySubject = fmt.Errorf("%w: subject cannot be empty", status.ErrInvalidArgument)

	ErrInvalidToken = fmt.Errorf("%w: invalid token", status.ErrUnauthorized)
	ErrExpiredToken = fmt.Errorf("%w: token has expired", status.ErrUnauthorized)
)

// Claims are the JWT claims of a binding token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// CanWrite reports whether the token allows mutating requests.
func (c *Claims) CanWrite() bool {
	return c.Role == RoleWriter
}

// TokenManager signs and validates tokens with one shared secret.
type TokenManager struct {
	secretKey []byte
	ttl       time.Duration
}

// NewTokenManager creates a token manager. Tokens it issues expire after ttl.
func NewTokenManager(secret string, ttl time.Duration) (*TokenManager, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrShortSecret
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: token lifetime must be positive", status.ErrInvalidArgument)
	}
	return &TokenManager{secretKey: []byte(secret), ttl: ttl}, nil
}

// GenerateToken issues a token for subject with the given role.
func (m *TokenManager) GenerateToken(subject, role string) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}
	if role != RoleReader && role != RoleWriter {
		return "", ErrInvalidRole
	}

	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// ValidateToken checks the signature, issuer, expiry and role of a token.
func (m *TokenManager) ValidateToken(_ context.Context, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return m.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Role != RoleReader && claims.Role != RoleWriter {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}
