package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/remote-mirror/backend/internal/model"
)

// Claims is the payload of an access token. The id/username field names
// match what existing clients decode.
type Claims struct {
	UserID   model.UserID `json:"id"`
	Username string       `json:"username"`
	jwt.RegisteredClaims
}

// TokenSigner issues and verifies access tokens with a shared secret.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenSigner creates a TokenSigner. ttl must be positive.
func NewTokenSigner(secret []byte, ttl time.Duration) *TokenSigner {
	return &TokenSigner{secret: secret, ttl: ttl}
}

// TTL returns how long issued tokens stay valid.
func (s *TokenSigner) TTL() time.Duration {
	return s.ttl
}

// Sign issues a token for user valid from now.
func (s *TokenSigner) Sign(user *model.User) (string, error) {
	return s.SignAt(user, time.Now())
}

// SignAt is like Sign but takes the issue time explicitly.
func (s *TokenSigner) SignAt(user *model.User, now time.Time) (string, error) {
	claims := Claims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of tokenString and returns its claims.
// Errors are always one of model.ErrTokenMalformed, model.ErrTokenExpired or
// model.ErrTokenSignatureInvalid.
func (s *TokenSigner) Verify(tokenString string) (*Claims, error) {
	return s.VerifyAt(tokenString, time.Now())
}

// VerifyAt is like Verify but checks expiry against now.
func (s *TokenSigner) VerifyAt(tokenString string, now time.Time) (*Claims, error) {
	if tokenString == "" {
		return nil, model.ErrTokenMalformed
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, classify(err)
	}

	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing id claim", model.ErrTokenMalformed)
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return model.ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return model.ErrTokenSignatureInvalid
	default:
		return fmt.Errorf("%w: %v", model.ErrTokenMalformed, err)
	}
}
