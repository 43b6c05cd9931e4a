package middleware

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// AuthorizationHeader carries the bearer token for session routes.
	AuthorizationHeader = "Authorization"

	// BearerPrefix is the expected Authorization scheme.
	BearerPrefix = "Bearer "

	// DefaultTokenExpiry is how long a login session stays valid.
	DefaultTokenExpiry = 24 * time.Hour

	tokenIssuer = "exo-trace-archiver"
)

var (
	// ErrInvalidToken covers malformed, tampered and wrong-issuer tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired marks tokens past their expiry claim.
	ErrTokenExpired = errors.New("token expired")
)

// JWTClaims is the session payload minted at login and checked on every
// authenticated request.
type JWTClaims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager signs and verifies session tokens with a shared HMAC secret.
type JWTManager struct {
	secret []byte
	expiry time.Duration
}

func NewJWTManager(secret string, expiry time.Duration) *JWTManager {
	return &JWTManager{secret: []byte(secret), expiry: expiry}
}

// GenerateToken mints an HS256 token for the given user. It returns the
// signed token together with its expiry as a Unix timestamp.
func (m *JWTManager) GenerateToken(userID uint, username, role string) (string, int64, error) {
	now := time.Now()
	expiresAt := now.Add(m.expiry)

	claims := JWTClaims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt.Unix(), nil
}

// ValidateToken parses and verifies a token and returns its claims.
// Expired tokens are reported as ErrTokenExpired so callers can tell a
// stale session from a forged one; every other failure maps to
// ErrInvalidToken.
func (m *JWTManager) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{},
		func(t *jwt.Token) (interface{}, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
