package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/storefront/integration/internal/infrastructure/config"
)

var (
	// ErrTokenInvalid is returned when a token fails parsing or signature checks
	ErrTokenInvalid = errors.New("token is invalid")

	// ErrTokenExpired is returned when a token is past its expiry
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenRevoked is returned when a token was explicitly revoked
	ErrTokenRevoked = errors.New("token has been revoked")

	// ErrNotConfigured is returned when no signing secret is configured
	ErrNotConfigured = errors.New("admin token secret not configured")
)

// Claims carries the identity of an operator calling the admin API.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenService issues and validates admin API tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewTokenService creates a token service from admin configuration.
func NewTokenService(cfg config.AdminConfig) *TokenService {
	return &TokenService{
		secret: []byte(cfg.JWTSecret),
		ttl:    cfg.TokenTTL,
		issuer: cfg.Issuer,
	}
}

// Enabled reports whether a signing secret is configured.
func (s *TokenService) Enabled() bool {
	return len(s.secret) > 0
}

// Issue creates a signed token for the given operator.
func (s *TokenService) Issue(subject, role string) (string, error) {
	if !s.Enabled() {
		return "", ErrNotConfigured
	}

	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a token, returning its claims.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	if !s.Enabled() {
		return nil, ErrNotConfigured
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
