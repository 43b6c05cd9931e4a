// Package middleware implements API authentication: a deployment-wide
// API key gating every route, and per-user JWT sessions on top for the
// interactive surface.
package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// AuthManager bundles the two credential checkers the router mounts.
type AuthManager struct {
	APIKeyManager *APIKeyManager
	JWTManager    *JWTManager
}

// NewAuthManager wires an API key manager rooted at dataDir and a JWT
// manager signing with jwtSecret.
func NewAuthManager(dataDir, jwtSecret string, tokenExpiry time.Duration) (*AuthManager, error) {
	apiKeyManager, err := NewAPIKeyManager(dataDir)
	if err != nil {
		return nil, err
	}
	return &AuthManager{
		APIKeyManager: apiKeyManager,
		JWTManager:    NewJWTManager(jwtSecret, tokenExpiry),
	}, nil
}

// abortUnauthorized ends the request with the standard error envelope.
func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "AUTH_FAILED",
			"message": message,
		},
	})
}

// APIKeyMiddleware rejects any request that does not carry the current
// deployment key in the X-API-Key header.
func APIKeyMiddleware(manager *APIKeyManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(APIKeyHeader)
		if key == "" {
			abortUnauthorized(c, "API key required")
			return
		}
		if !manager.ValidateKey(key) {
			abortUnauthorized(c, "Invalid API key")
			return
		}
		c.Next()
	}
}

// JWTMiddleware requires a valid bearer token and exposes its identity
// claims to handlers through the request context.
func JWTMiddleware(manager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(AuthorizationHeader)
		if header == "" {
			abortUnauthorized(c, "Authorization token required")
			return
		}
		token, ok := strings.CutPrefix(header, BearerPrefix)
		if !ok || token == "" {
			abortUnauthorized(c, "Invalid authorization format, expected Bearer token")
			return
		}

		claims, err := manager.ValidateToken(token)
		if err != nil {
			if errors.Is(err, ErrTokenExpired) {
				abortUnauthorized(c, "Token expired, please log in again")
			} else {
				abortUnauthorized(c, "Invalid token")
			}
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// GetUserIDFromContext returns the authenticated user's ID when a JWT
// middleware ran on this request.
func GetUserIDFromContext(c *gin.Context) (uint, bool) {
	v, exists := c.Get("user_id")
	if !exists {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}

// GetUsernameFromContext returns the authenticated username.
func GetUsernameFromContext(c *gin.Context) (string, bool) {
	v, exists := c.Get("username")
	if !exists {
		return "", false
	}
	name, ok := v.(string)
	return name, ok
}

// GetRoleFromContext returns the authenticated user's role.
func GetRoleFromContext(c *gin.Context) (string, bool) {
	v, exists := c.Get("role")
	if !exists {
		return "", false
	}
	role, ok := v.(string)
	return role, ok
}
